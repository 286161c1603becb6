// Package poll drives the repeated session-scan-filter-notify cycle until
// the overall run timeout elapses.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"shiftwatch/pkg/shift"
	"shiftwatch/scraper"
	"shiftwatch/session"
)

// Sessions acquires and releases the authenticated session.
type Sessions interface {
	Acquire(ctx context.Context) (*session.Session, error)
	Release(sess *session.Session, persist bool) error
}

// Searcher locates and filters shifts for one target date.
type Searcher interface {
	MatchingShifts(ctx context.Context, client *http.Client, c shift.Criteria) ([]shift.Record, error)
}

// Notifier delivers a best-effort, throttled notification for the matches.
type Notifier interface {
	MaybeNotify(ctx context.Context, matches []shift.Record)
}

// Loop polls the calendar until a deadline. Strictly sequential: one
// iteration at a time, blocking on network fetches and the inter-iteration
// sleep.
type Loop struct {
	sessions  Sessions
	searcher  Searcher
	notifier  Notifier
	logger    *slog.Logger
	sleep     time.Duration
	keepAlive bool
}

// New creates a poll loop. keepAlive controls whether the session is
// persisted between iterations.
func New(sessions Sessions, searcher Searcher, notifier Notifier, keepAlive bool, sleep time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		sessions:  sessions,
		searcher:  searcher,
		notifier:  notifier,
		keepAlive: keepAlive,
		sleep:     sleep,
		logger:    logger,
	}
}

// Run polls until ctx expires, which is the normal way out and returns nil.
// An authentication failure or a target date missing from the whole calendar
// aborts the run. Transport and parse failures only cost the current
// iteration; the next poll is the retry.
func (l *Loop) Run(ctx context.Context, c shift.Criteria) error {
	l.logger.Info("Polling for shifts",
		"date", c.TargetDate.Format("2006-01-02"),
		"start_hour", c.StartHour,
		"end_hour", c.EndHour,
		"shift", c.NamePattern)

	for {
		if ctx.Err() != nil {
			l.logger.Info("Timed out, ending")
			return nil
		}

		matched, err := l.iterate(ctx, c)
		switch {
		case err == nil:
			if matched {
				// No sleep after a match: keep watching, the notification
				// throttle suppresses repeat texts for the same result.
				continue
			}
		case ctx.Err() != nil:
			// Deadline expired mid-iteration; this is the normal ending.
			l.logger.Info("Timed out, ending")
			return nil
		case isFatal(err):
			return err
		default:
			l.logger.Warn("Poll iteration failed, will retry", "error", err, "retry_in", l.sleep.String())
		}

		if err := l.wait(ctx); err != nil {
			l.logger.Info("Timed out, ending")
			return nil
		}
	}
}

// iterate runs one acquire-scan-filter-notify cycle. The session is released
// on every exit path once acquired.
func (l *Loop) iterate(ctx context.Context, c shift.Criteria) (matched bool, err error) {
	sess, err := l.sessions.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		if relErr := l.sessions.Release(sess, l.keepAlive); relErr != nil {
			l.logger.Warn("Failed to release session", "error", relErr)
		}
	}()

	matches, err := l.searcher.MatchingShifts(ctx, sess.Client, c)
	if err != nil {
		return false, err
	}

	if len(matches) == 0 {
		l.logger.Info("No shifts found", "retry_in", l.sleep.String())
		return false, nil
	}

	fmt.Printf("====== SHIFT TIMES ======\n%s\n", shift.FormatList(matches))
	l.notifier.MaybeNotify(ctx, matches)
	return true, nil
}

// isFatal reports whether the error must abort the whole run: a failed login
// handshake, or a target date absent from all scanned pages.
func isFatal(err error) bool {
	var authErr *session.AuthError
	return errors.As(err, &authErr) || errors.Is(err, scraper.ErrDateNotFound)
}

func (l *Loop) wait(ctx context.Context) error {
	timer := time.NewTimer(l.sleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
