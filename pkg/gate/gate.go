// Package gate decides whether protected views may render for a given
// session snapshot. It is a pure function of session state: no side effects,
// no network access, re-evaluated on every session change.
package gate

import "github.com/architechdev/feedsync-go/pkg/session"

// Kind enumerates the possible access decisions.
type Kind int

const (
	// Render allows the protected content to display.
	Render Kind = iota
	// Redirect sends the user to Decision.Target.
	Redirect
	// Wait means the session is still resolving; presentation shows a
	// loading indicator and must not redirect yet.
	Wait
)

// LoginPath is the only redirect target protected views use.
const LoginPath = "/login"

// Decision is the outcome of evaluating a session snapshot.
type Decision struct {
	Kind   Kind
	Target string
}

// Decide maps a session snapshot to an access decision. Redirecting during
// the authenticating window would flash the login screen on every reload,
// so that state always yields Wait.
func Decide(snap session.Snapshot) Decision {
	switch snap.Status {
	case session.StatusAuthenticating:
		return Decision{Kind: Wait}
	case session.StatusAuthenticated, session.StatusRefreshing:
		return Decision{Kind: Render}
	default:
		return Decision{Kind: Redirect, Target: LoginPath}
	}
}
