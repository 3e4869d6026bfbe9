package transport

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials indicates the server rejected the identifier/secret pair.
	ErrInvalidCredentials = errors.New("transport: invalid credentials")
	// ErrEmailTaken indicates registration failed because the email is already in use.
	ErrEmailTaken = errors.New("transport: email already taken")
	// ErrNetworkUnavailable indicates a transport-level failure or timeout; the
	// request may or may not have reached the server.
	ErrNetworkUnavailable = errors.New("transport: network unavailable")
	// ErrSessionExpired indicates the credential attached to the request was
	// rejected as expired or revoked.
	ErrSessionExpired = errors.New("transport: session expired")
	// ErrConflict indicates the server rejected a mutation because its state
	// diverged from the client's view.
	ErrConflict = errors.New("transport: conflict")
)

// ValidationError carries per-field rejection reasons from a 422 response or
// from client-side validation of required fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "transport: validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("transport: validation failed: %s", strings.Join(names, ", "))
}

// NewValidationError builds a ValidationError for the given fields.
func NewValidationError(fields map[string]string) *ValidationError {
	cloned := make(map[string]string, len(fields))
	for k, v := range fields {
		cloned[k] = v
	}
	return &ValidationError{Fields: cloned}
}
