package auth

// Session is the persisted credential pair plus the cached profile of the
// user it belongs to. The token pair is all-or-nothing: a session with only
// one of the two tokens is invalid and is never stored.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         UserSummary
}

// Valid reports whether the session carries a complete token pair.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// UserSummary is an immutable snapshot of the signed-in user. It is refreshed
// on login and on explicit profile fetch, not kept consistent with the server.
type UserSummary struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
}

// State describes the manager's position in the session lifecycle.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}
