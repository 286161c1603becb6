package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"shiftwatch/storage"
)

const validSessionCookie = "fresh-login"

// coopServer fakes the member site: a login form with a csrf token, a login
// POST that hands out a session cookie, and a calendar page that only shows
// the "Shift Calendar" marker to a logged-in session.
type coopServer struct {
	*httptest.Server
	loginGETs  int
	loginPOSTs int
	probes     int
	csrfToken  string
}

func newCoopServer(t *testing.T) *coopServer {
	t.Helper()
	cs := &coopServer{csrfToken: "tok-123"}

	mux := http.NewServeMux()
	mux.HandleFunc("/services/login/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			cs.loginGETs++
			fmt.Fprintf(w, `<html><body><form>
<input type="hidden" name="csrfmiddlewaretoken" value=%q>
</form></body></html>`, cs.csrfToken)
		case http.MethodPost:
			cs.loginPOSTs++
			if err := r.ParseForm(); err != nil {
				t.Errorf("bad login form: %v", err)
			}
			if got := r.PostForm.Get("csrfmiddlewaretoken"); got != cs.csrfToken {
				t.Errorf("login posted token %q, want %q", got, cs.csrfToken)
			}
			if r.PostForm.Get("username") == "" || r.PostForm.Get("password") == "" {
				t.Error("login posted without credentials")
			}
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: validSessionCookie, Path: "/"})
			fmt.Fprint(w, "<html><body>Welcome</body></html>")
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/services/shifts/", func(w http.ResponseWriter, r *http.Request) {
		cs.probes++
		if c, err := r.Cookie("sessionid"); err == nil && c.Value == validSessionCookie {
			fmt.Fprint(w, "<html><body><h2>Shift Calendar</h2></body></html>")
			return
		}
		fmt.Fprint(w, "<html><body>Please log in</body></html>")
	})

	cs.Server = httptest.NewServer(mux)
	return cs
}

func testManager(t *testing.T, srv *coopServer) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.New(filepath.Join(t.TempDir(), "session.db"), logger)
	return NewManager(store, srv.URL, "member", "hunter2", logger)
}

func TestAcquireWithoutStoredSessionLogsIn(t *testing.T) {
	srv := newCoopServer(t)
	defer srv.Close()
	m := testManager(t, srv)

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if sess == nil || sess.Client == nil {
		t.Fatal("Acquire() returned an unusable session")
	}

	if srv.loginGETs != 1 || srv.loginPOSTs != 1 {
		t.Errorf("login handshake: %d GETs / %d POSTs, want exactly 1 / 1", srv.loginGETs, srv.loginPOSTs)
	}
	if srv.probes != 0 {
		t.Errorf("fresh login ran %d liveness probes, want 0", srv.probes)
	}
}

func TestAcquireTrustsWorkingStoredSession(t *testing.T) {
	srv := newCoopServer(t)
	defer srv.Close()
	m := testManager(t, srv)

	seedSession(t, m, validSessionCookie)

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if sess == nil {
		t.Fatal("Acquire() returned nil session")
	}

	if srv.probes != 1 {
		t.Errorf("ran %d liveness probes, want exactly 1", srv.probes)
	}
	if srv.loginGETs != 0 || srv.loginPOSTs != 0 {
		t.Errorf("working stored session triggered a login (%d GETs / %d POSTs)", srv.loginGETs, srv.loginPOSTs)
	}
}

func TestAcquireAfterFailedProbeLogsInFresh(t *testing.T) {
	srv := newCoopServer(t)
	defer srv.Close()
	m := testManager(t, srv)

	seedSession(t, m, "stale-cookie")

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if sess == nil {
		t.Fatal("Acquire() returned nil session")
	}

	if srv.probes != 1 {
		t.Errorf("ran %d liveness probes, want 1", srv.probes)
	}
	if srv.loginGETs != 1 || srv.loginPOSTs != 1 {
		t.Errorf("stale session: %d login GETs / %d POSTs, want fresh handshake 1 / 1", srv.loginGETs, srv.loginPOSTs)
	}
}

func TestAcquireFailsWithoutCSRFToken(t *testing.T) {
	srv := newCoopServer(t)
	defer srv.Close()
	srv.csrfToken = "" // form renders with an empty token value

	m := testManager(t, srv)

	_, err := m.Acquire(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Acquire() = %v, want *AuthError", err)
	}
	if srv.loginPOSTs != 0 {
		t.Errorf("credentials were posted despite missing token (%d POSTs)", srv.loginPOSTs)
	}
}

func TestReleasePersistsSession(t *testing.T) {
	srv := newCoopServer(t)
	defer srv.Close()
	m := testManager(t, srv)

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	if err := m.Release(sess, true); err != nil {
		t.Fatalf("Release(persist) failed: %v", err)
	}

	// The next acquire should find the stored cookies and only probe.
	srv.loginGETs, srv.loginPOSTs, srv.probes = 0, 0, 0
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("second Acquire() failed: %v", err)
	}
	if srv.probes != 1 || srv.loginPOSTs != 0 {
		t.Errorf("persisted session not reused: %d probes, %d login POSTs", srv.probes, srv.loginPOSTs)
	}
}

func TestReleaseWithoutPersistDeletesStoredSession(t *testing.T) {
	srv := newCoopServer(t)
	defer srv.Close()
	m := testManager(t, srv)

	seedSession(t, m, validSessionCookie)

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if err := m.Release(sess, false); err != nil {
		t.Fatalf("Release(discard) failed: %v", err)
	}

	if _, err := m.store.Get(sessionKey); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("stored session still present after discard: %v", err)
	}
}

func seedSession(t *testing.T, m *Manager, cookieValue string) {
	t.Helper()
	raw, err := json.Marshal([]*http.Cookie{{Name: "sessionid", Value: cookieValue}})
	if err != nil {
		t.Fatalf("marshal cookies: %v", err)
	}
	if err := m.store.Put(sessionKey, raw); err != nil {
		t.Fatalf("seed session store: %v", err)
	}
}
