package sessions

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the server side record behind a bearer token.
type Session struct {
	ID                string
	Email             string
	EncryptedPassword string // empty for reconstructed sessions
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// ValidAt reports whether the session has not yet expired at now.
func (s Session) ValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// HasPassword reports whether password dependent operations can run without asking the user again.
func (s Session) HasPassword() bool {
	return s.EncryptedPassword != ""
}

// BearerClaims is the payload signed into the auth cookie.
type BearerClaims struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

type LookupStatus int

const (
	Found LookupStatus = iota + 1
	Reconstructed
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case Reconstructed:
		return "reconstructed"
	default:
		return "unknown"
	}
}

// Lookup is the outcome of a successful Validate.
type Lookup struct {
	Session Session
	Status  LookupStatus
}
