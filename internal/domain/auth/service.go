package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Config tunes the manager's refresh behavior.
type Config struct {
	// RefreshTimeout bounds the refresh HTTP call. The call runs detached
	// from any individual waiter's context so that every waiter observes
	// the same outcome.
	RefreshTimeout time.Duration
	// ExpiryLeeway is how close to the access token's exp claim the token
	// may get before it is reported stale.
	ExpiryLeeway time.Duration
}

// Manager owns the session lifecycle: login, logout, and the single-flight
// refresh protocol. It is the only component that mutates the stored session.
type Manager struct {
	store  CredentialStore
	api    API
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	sess  *Session
	state State

	flight singleflight.Group

	endedMu        sync.Mutex
	onSessionEnded func()
}

// NewManager creates a session manager. Call Restore before first use to
// hydrate the session persisted by a previous run.
func NewManager(store CredentialStore, api API, cfg Config, logger *slog.Logger) *Manager {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	if cfg.ExpiryLeeway <= 0 {
		cfg.ExpiryLeeway = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		store:  store,
		api:    api,
		cfg:    cfg,
		logger: logger,
		state:  StateAnonymous,
	}
}

// OnSessionEnded registers a callback fired when an established session is
// terminated by a failed refresh. It is not fired on explicit logout.
func (m *Manager) OnSessionEnded(fn func()) {
	m.endedMu.Lock()
	defer m.endedMu.Unlock()
	m.onSessionEnded = fn
}

// Restore loads the persisted session, if any.
func (m *Manager) Restore(ctx context.Context) error {
	sess, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if !sess.Valid() {
		return nil
	}

	m.mu.Lock()
	m.sess = sess
	m.state = StateAuthenticated
	m.mu.Unlock()
	return nil
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the current access token, if a session is established.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sess.Valid() {
		return "", false
	}
	return m.sess.AccessToken, true
}

// CurrentUser returns the cached profile of the signed-in user.
func (m *Manager) CurrentUser() (UserSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sess.Valid() {
		return UserSummary{}, false
	}
	return m.sess.User, true
}

// Login establishes a new session. On success the previous session, if any,
// is replaced in store and memory atomically from the caller's perspective.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	sess, err := m.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !sess.Valid() {
		return nil, errors.New("server returned incomplete token pair")
	}

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sess = sess
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.Info("logged in", "user", sess.User.Email)
	return sess, nil
}

// Logout invalidates the session remotely on a best-effort basis and clears
// it locally unconditionally.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	if sess.Valid() {
		if err := m.api.Logout(ctx, sess.AccessToken); err != nil {
			m.logger.Warn("remote logout failed", "error", err)
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.sess = nil
	m.state = StateAnonymous
	m.mu.Unlock()
	return nil
}

// UpdateUser replaces the cached profile snapshot, persisting it alongside
// the current token pair.
func (m *Manager) UpdateUser(ctx context.Context, user UserSummary) error {
	m.mu.Lock()
	if !m.sess.Valid() {
		m.mu.Unlock()
		return ErrNoSession
	}
	updated := *m.sess
	updated.User = user
	m.mu.Unlock()

	if err := m.store.Save(ctx, &updated); err != nil {
		return err
	}

	m.mu.Lock()
	if m.sess.Valid() && m.sess.AccessToken == updated.AccessToken {
		m.sess = &updated
	}
	m.mu.Unlock()
	return nil
}

// AccessTokenStale reports whether the access token's exp claim is within
// the configured leeway of now. The claim is read without signature
// verification; the server remains the authority and an unreadable token is
// simply not reported stale.
func (m *Manager) AccessTokenStale(now time.Time) bool {
	token, ok := m.Token()
	if !ok {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Add(m.cfg.ExpiryLeeway).After(exp.Time)
}

// Refresh exchanges the refresh credential for a new token pair. Concurrent
// callers share a single in-flight exchange and all observe its outcome:
// true when a new pair is in place, false when the session ended. The error
// return carries only caller-context cancellation; refresh failure itself is
// the false outcome.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	ch := m.flight.DoChan(refreshKey, func() (any, error) {
		return m.doRefresh(), nil
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		return res.Val.(bool), nil
	}
}

func (m *Manager) doRefresh() bool {
	m.mu.Lock()
	if !m.sess.Valid() {
		m.mu.Unlock()
		return false
	}
	refreshToken := m.sess.RefreshToken
	prevUser := m.sess.User
	m.state = StateRefreshing
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
	defer cancel()

	sess, err := m.api.Refresh(ctx, refreshToken)
	if err != nil || !sess.Valid() {
		m.logger.Warn("refresh failed, ending session", "error", err)
		m.endSession()
		return false
	}
	if sess.User == (UserSummary{}) {
		// Refresh responses may omit the profile; keep the cached one.
		sess.User = prevUser
	}

	// The server already rotated the refresh token; the new pair must win
	// even if persisting it fails, or the session dies on next restart
	// instead of right now.
	if err := m.store.Save(ctx, sess); err != nil {
		m.logger.Error("persisting refreshed session failed", "error", err)
	}

	m.mu.Lock()
	m.sess = sess
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.Debug("session refreshed")
	return true
}

func (m *Manager) endSession() {
	// A refresh that timed out hands us an expired context; clearing the
	// local session must still go through.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("clearing session failed", "error", err)
	}

	m.mu.Lock()
	m.sess = nil
	m.state = StateAnonymous
	m.mu.Unlock()

	m.endedMu.Lock()
	fn := m.onSessionEnded
	m.endedMu.Unlock()
	if fn != nil {
		fn()
	}
}
