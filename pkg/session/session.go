package session

import "errors"

var (
	// ErrAlreadyInProgress indicates a login attempt is already in flight.
	ErrAlreadyInProgress = errors.New("session: attempt already in progress")
	// ErrNotAuthenticated indicates the operation requires an authenticated session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// Status is the externally visible authentication state.
type Status string

const (
	// StatusAnonymous means no session exists.
	StatusAnonymous Status = "anonymous"
	// StatusAuthenticating covers both an in-flight login and the silent
	// restore window at startup. Callers must not redirect while in it.
	StatusAuthenticating Status = "authenticating"
	// StatusAuthenticated means a valid credential is held.
	StatusAuthenticated Status = "authenticated"
	// StatusRefreshing means the credential is being renewed; protected
	// content keeps rendering.
	StatusRefreshing Status = "refreshing"
	// StatusExpired means renewal failed and the user must log in again.
	StatusExpired Status = "expired"
	// StatusError means the session state could not be determined, for
	// example because the token store is unreadable.
	StatusError Status = "error"
)

// Snapshot is an immutable copy of the session state. The credential itself
// is deliberately absent; only the manager may read it.
type Snapshot struct {
	Status    Status
	UserID    string
	LastError error
}

// Authenticated reports whether protected content may rely on a user identity.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated || s.Status == StatusRefreshing
}
