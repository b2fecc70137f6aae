package auth

import "context"

// CredentialStore persists the session across process restarts. Load returns
// (nil, nil) when no session is stored; absence is a normal state, not an
// error.
type CredentialStore interface {
	Save(ctx context.Context, sess *Session) error
	Load(ctx context.Context) (*Session, error)
	Clear(ctx context.Context) error
}

// API is the remote authentication surface. Implementations talk to the
// server directly; these calls do not go through the authenticated gateway.
type API interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, accessToken string) error
}
