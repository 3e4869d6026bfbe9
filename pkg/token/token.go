package token

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrStoreClosed indicates the store can no longer serve requests.
	ErrStoreClosed = errors.New("token: store closed")
	// ErrCorruptCredential indicates the persisted credential could not be decoded.
	ErrCorruptCredential = errors.New("token: corrupt credential")
)

// Credential is an opaque session token together with its owner and expiry.
// It is owned by the session manager; presentation code never reads it.
type Credential struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Zero reports whether the credential carries no token.
func (c Credential) Zero() bool {
	return strings.TrimSpace(c.Token) == ""
}

// ExpiredAt reports whether the credential has expired as of now.
func (c Credential) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ExpiringWithin reports whether the credential expires inside the window.
func (c Credential) ExpiringWithin(now time.Time, window time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(window).Before(c.ExpiresAt)
}

// Store persists the current credential across process restarts.
type Store interface {
	// Load returns the stored credential. The second result is false when
	// no credential is stored.
	Load() (Credential, bool, error)

	// Save replaces the stored credential.
	Save(Credential) error

	// Clear removes the stored credential. Clearing an empty store is not
	// an error.
	Clear() error
}
