// Package storage handles persistence of the serialized login session.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "sessions"

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("key not found")

// Store is a small key-value store backed by a bbolt file on local disk.
// The database file is opened and closed around every call so that no file
// lock is held across a poll sleep.
type Store struct {
	logger *slog.Logger
	path   string
}

// New creates a store for the bolt file at path. The file is created lazily
// on first write.
func New(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

func (s *Store) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session db %s: %w", s.path, err)
	}
	return db, nil
}

// Put stores value under key, overwriting any prior entry.
func (s *Store) Put(key string, value []byte) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer s.close(db)

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}

	s.logger.Debug("Stored value", "key", key, "bytes", len(value))
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer s.close(db)

	var value []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// The slice is only valid inside the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}

	return value, nil
}

// Delete removes the entry for key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer s.close(db)

	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}

	s.logger.Debug("Deleted value", "key", key)
	return nil
}

func (s *Store) close(db *bolt.DB) {
	if err := db.Close(); err != nil {
		s.logger.Warn("Failed to close session db", "error", err)
	}
}
