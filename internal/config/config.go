package config

import (
	"encoding/hex"
	"fmt"

	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	CorsConfig
	SessionConfig
	IdentityConfig
	WarehouseConfig
	SoftLaunchConfig
	CacheConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	IsProduction() bool
	GetURLBase(env environment.Environment) string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Session
	Identity
	Warehouse
	SoftLaunch
	Cache
}

// New loads an optional .env file and returns the env-backed configuration.
func New() Config {
	_ = godotenv.Load(".env")
	return mainConfig{}
}

// Validate checks the settings the process cannot start without.
func Validate(c Config) error {
	key := c.GetEncryptionKey()
	if len(key) != 64 {
		return fmt.Errorf("%s must be 64 hex characters, got %d", encryptionKeyVar, len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("%s is not valid hex: %w", encryptionKeyVar, err)
	}
	if c.GetSessionSecret() == "" {
		return fmt.Errorf("%s is required", sessionSecretVar)
	}
	if c.GetSessionDuration() <= 0 {
		return fmt.Errorf("%s must be positive", sessionDurationVar)
	}
	return nil
}
