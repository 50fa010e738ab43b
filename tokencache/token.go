package tokencache

import (
	"time"

	"github.com/jrsteele09/go-access-broker/environment"
)

// CachedToken is a downstream token pair minted for one user in one environment.
type CachedToken struct {
	AccessToken  string                  `json:"access_token"`
	RefreshToken string                  `json:"refresh_token"`
	Environment  environment.Environment `json:"environment"`
	ExpiresAt    time.Time               `json:"expires_at"`
	CreatedAt    time.Time               `json:"created_at"`
}

// Remaining is the time left before the token expires.
func (t CachedToken) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// SlotStatus describes one environment slot. ExpiresAt is epoch milliseconds.
type SlotStatus struct {
	Exists           bool   `json:"exists"`
	ExpiresAt        *int64 `json:"expiresAt,omitempty"`
	MinutesRemaining *int   `json:"minutesRemaining,omitempty"`
}

type Status struct {
	Dev  SlotStatus `json:"dev"`
	Hml  SlotStatus `json:"hml"`
	Prod SlotStatus `json:"prod"`
}

// Slot returns the status for env.
func (s Status) Slot(env environment.Environment) SlotStatus {
	switch env {
	case environment.Dev:
		return s.Dev
	case environment.Hml:
		return s.Hml
	default:
		return s.Prod
	}
}

type UserStats struct {
	Email        string                    `json:"email"`
	Environments []environment.Environment `json:"environments"`
}

type Stats struct {
	TotalUsers  int         `json:"total_users"`
	TotalTokens int         `json:"total_tokens"`
	Users       []UserStats `json:"users"`
}
