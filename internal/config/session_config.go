package config

import "time"

const (
	encryptionKeyVar   = "ENCRYPTION_KEY"
	sessionSecretVar   = "SESSION_SECRET"
	sessionDurationVar = "SESSION_DURATION"
)

type SessionConfig interface {
	GetEncryptionKey() string
	GetSessionSecret() string
	GetSessionDuration() time.Duration
	GetBearerTTL() time.Duration
	GetSessionCleanupInterval() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetEncryptionKey() string {
	return GetEnv(encryptionKeyVar, "")
}

func (Session) GetSessionSecret() string {
	return GetEnv(sessionSecretVar, "")
}

// GetSessionDuration is expressed in milliseconds in the environment (default 8h).
func (Session) GetSessionDuration() time.Duration {
	return GetEnvMillis(sessionDurationVar, 8*time.Hour)
}

// GetBearerTTL is the lifetime signed into the bearer cookie itself.
func (Session) GetBearerTTL() time.Duration {
	return GetEnvDuration("BEARER_TTL", 8*time.Hour)
}

func (Session) GetSessionCleanupInterval() time.Duration {
	return GetEnvDuration("SESSION_CLEANUP_INTERVAL", 30*time.Minute)
}
