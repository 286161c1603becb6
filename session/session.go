// Package session manages the authenticated login session with the coop
// member site, including persistence across process runs.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"shiftwatch/storage"
)

const (
	sessionKey  = "shiftwatch_session"
	loginPath   = "/services/login/"
	shiftsPath  = "/services/shifts/"
	csrfField   = "csrfmiddlewaretoken"
	probeMarker = "Shift Calendar"
)

// AuthError indicates the login handshake failed. It aborts the run; the
// poll loop never retries authentication.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Session is an authenticated handle to the member site. The cookie jar on
// the client carries the login state.
type Session struct {
	Client *http.Client
}

// Manager acquires and releases sessions, persisting them in a local store
// so repeated polls do not log in over and over.
type Manager struct {
	store    *storage.Store
	logger   *slog.Logger
	baseURL  string
	username string
	password string
}

// NewManager creates a session manager for the site at baseURL.
func NewManager(store *storage.Store, baseURL, username, password string, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		logger:   logger,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
	}
}

// Acquire returns a working session. A persisted session is trusted only
// after it passes a liveness probe; otherwise a fresh login handshake runs.
// With no persisted session there is no probe, just the login.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	raw, err := m.store.Get(sessionKey)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Info("No stored session, creating a new one")
		return m.login(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load stored session: %w", err)
	}

	sess, err := m.restore(raw)
	if err != nil {
		m.logger.Warn("Stored session is unreadable, creating a new one", "error", err)
		return m.login(ctx)
	}

	if m.probe(ctx, sess) {
		m.logger.Info("Stored session still works")
		return sess, nil
	}

	m.logger.Info("Stored session failed liveness probe, creating a new one")
	return m.login(ctx)
}

// Release disposes of a session. With persist set the cookies are written to
// the store for the next acquisition; otherwise any stored entry is deleted
// and the session's connections are shut down.
func (m *Manager) Release(sess *Session, persist bool) error {
	if !persist {
		sess.Client.CloseIdleConnections()
		return m.store.Delete(sessionKey)
	}

	raw, err := m.serialize(sess)
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}
	return m.store.Put(sessionKey, raw)
}

func newClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
	}, nil
}

// login performs the handshake: fetch the login form, pull the anti-forgery
// token out of it, and post the credentials. Two round-trips.
func (m *Manager) login(ctx context.Context) (*Session, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	loginURL := m.baseURL + loginPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, http.NoBody)
	if err != nil {
		return nil, &AuthError{Reason: "create login page request", Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &AuthError{Reason: "fetch login page", Err: err}
	}
	defer m.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Reason: fmt.Sprintf("login page returned HTTP %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &AuthError{Reason: "parse login page", Err: err}
	}

	token, ok := doc.Find(`input[name="` + csrfField + `"]`).First().Attr("value")
	if !ok || token == "" {
		return nil, &AuthError{Reason: "login form is missing the anti-forgery token"}
	}

	form := url.Values{
		"username": {m.username},
		"password": {m.password},
		csrfField:  {token},
		"Submit":   {"Log In"},
		"next":     {""},
	}

	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Reason: "create login request", Err: err}
	}
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postReq.Header.Set("Referer", loginURL)
	postReq.Header.Set("Connection", "keep-alive")

	postResp, err := client.Do(postReq)
	if err != nil {
		return nil, &AuthError{Reason: "submit credentials", Err: err}
	}
	defer m.closeBody(postResp)

	if postResp.StatusCode < 200 || postResp.StatusCode >= 300 {
		return nil, &AuthError{Reason: fmt.Sprintf("credential submission returned HTTP %d", postResp.StatusCode)}
	}

	m.logger.Info("Login completed", "status_code", postResp.StatusCode)
	return &Session{Client: client}, nil
}

// probe checks whether a restored session is still logged in by fetching the
// shift calendar and looking for its header marker. One round-trip.
func (m *Manager) probe(ctx context.Context, sess *Session) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+shiftsPath, http.NoBody)
	if err != nil {
		m.logger.Warn("Failed to create probe request", "error", err)
		return false
	}

	resp, err := sess.Client.Do(req)
	if err != nil {
		m.logger.Warn("Liveness probe request failed", "error", err)
		return false
	}
	defer m.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		m.logger.Info("Liveness probe returned non-OK status", "status_code", resp.StatusCode)
		return false
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		m.logger.Warn("Failed to parse probe page", "error", err)
		return false
	}

	return strings.Contains(doc.Text(), probeMarker)
}

func (m *Manager) serialize(sess *Session) ([]byte, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	return json.Marshal(sess.Client.Jar.Cookies(u))
}

func (m *Manager) restore(raw []byte) (*Session, error) {
	var cookies []*http.Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("unmarshal cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, errors.New("stored session has no cookies")
	}

	client, err := newClient()
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(m.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	client.Jar.SetCookies(u, cookies)

	return &Session{Client: client}, nil
}

func (m *Manager) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		m.logger.Warn("Failed to close response body", "error", err)
	}
}
