// Package testserver provides a fake field-data backend for tests: the auth
// endpoints plus the record-creation endpoints, with controllable token
// expiry and outages.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ReceivedRecord is one record the fake backend accepted.
type ReceivedRecord struct {
	Path           string
	IdempotencyKey string
	CapturedAt     string
	Payload        json.RawMessage
}

type TestServer struct {
	Server *httptest.Server

	Email    string
	Password string

	mu            sync.Mutex
	refreshSerial int
	lastAccess    string
	validAccess   map[string]bool
	refreshToken  string
	refreshes     int
	down          bool
	received      []ReceivedRecord
	seenKeys      map[string]bool
}

// New starts a fake backend accepting the given credentials.
func New(t *testing.T, email, password string) *TestServer {
	t.Helper()

	ts := &TestServer{
		Email:       email,
		Password:    password,
		validAccess: make(map[string]bool),
		seenKeys:    make(map[string]bool),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.Server.Close)
	return ts
}

func (ts *TestServer) URL() string { return ts.Server.URL }

// Received returns the records accepted so far, in arrival order.
func (ts *TestServer) Received() []ReceivedRecord {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]ReceivedRecord(nil), ts.received...)
}

// Refreshes reports how many refresh calls the backend served.
func (ts *TestServer) Refreshes() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.refreshes
}

// ExpireAccessToken invalidates every issued access token, forcing the next
// authenticated call into the refresh path.
func (ts *TestServer) ExpireAccessToken() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.validAccess = make(map[string]bool)
}

// RevokeSession invalidates access and refresh tokens, so refresh fails too.
func (ts *TestServer) RevokeSession() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.validAccess = make(map[string]bool)
	ts.refreshToken = ""
}

// SetDown toggles a simulated outage: every request answers 503.
func (ts *TestServer) SetDown(down bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.down = down
}

func (ts *TestServer) handle(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	switch {
	case r.URL.Path == "/api/auth/login":
		ts.handleLogin(w, r)
	case r.URL.Path == "/api/auth/refresh":
		ts.handleRefresh(w, r)
	case r.URL.Path == "/api/auth/logout":
		ts.handleLogout(w, r)
	case r.URL.Path == "/api/auth/me":
		ts.handleMe(w, r)
	default:
		ts.handleCreateRecord(w, r)
	}
}

func (ts *TestServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Email != ts.Email || req.Password != ts.Password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	ts.rotate()
	ts.writeTokens(w)
}

func (ts *TestServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		ts.refreshToken == "" || req.RefreshToken != ts.refreshToken {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	ts.refreshes++
	ts.rotate()
	ts.writeTokens(w)
}

func (ts *TestServer) writeTokens(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  ts.lastAccess,
		"refresh_token": ts.refreshToken,
		"token_type":    "bearer",
		"user":          ts.userPayload(),
	})
}

func (ts *TestServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	ts.validAccess = make(map[string]bool)
	ts.refreshToken = ""
	w.WriteHeader(http.StatusOK)
}

func (ts *TestServer) handleMe(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	json.NewEncoder(w).Encode(ts.userPayload())
}

func (ts *TestServer) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusNotFound, "Not found")
		return
	}
	if !ts.authorized(r) {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if ts.seenKeys[key] {
		// Duplicate delivery of an already accepted record.
		w.WriteHeader(http.StatusCreated)
		return
	}

	payload, _ := io.ReadAll(r.Body)
	ts.seenKeys[key] = true
	ts.received = append(ts.received, ReceivedRecord{
		Path:           r.URL.Path,
		IdempotencyKey: key,
		CapturedAt:     r.Header.Get("X-Captured-At"),
		Payload:        payload,
	})
	w.WriteHeader(http.StatusCreated)
}

func (ts *TestServer) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ts.validAccess[token]
}

// rotate issues a fresh token pair. Older access tokens stay valid until
// explicitly expired, like real JWTs. Access tokens are real JWTs so clients
// can inspect their expiry.
func (ts *TestServer) rotate() {
	ts.refreshSerial++

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"jti": fmt.Sprintf("access-%d", ts.refreshSerial),
		"exp": time.Now().Add(30 * time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		panic(err)
	}
	ts.lastAccess = signed
	ts.validAccess[signed] = true
	ts.refreshToken = fmt.Sprintf("refresh-%d", ts.refreshSerial)
}

func (ts *TestServer) userPayload() map[string]string {
	return map[string]string{
		"id":        "user-1",
		"email":     ts.Email,
		"full_name": "Site Surveyor",
		"role":      "client",
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
