package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when a login is rejected by the server.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired is returned when the session could not be repaired:
	// the refresh credential was rejected and the local session was cleared.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoSession is returned when an operation requires a signed-in user.
	ErrNoSession = errors.New("no active session")
)
