package config

import (
	"fmt"
	"net/url"
	"time"
)

type SoftLaunchConfig interface {
	GetSoftLaunchDSN() string
	GetSoftLaunchMaxConns() int
	GetReleaseLength() time.Duration
}

type SoftLaunch struct{}

var _ SoftLaunchConfig = SoftLaunch{}

// GetSoftLaunchDSN builds a postgres URL from the DB_SOFT_* variables.
// An empty string means the allow-list store is disabled.
func (SoftLaunch) GetSoftLaunchDSN() string {
	host := GetEnv("DB_SOFT_HOST", "")
	if host == "" {
		return ""
	}
	sslMode := "disable"
	if GetEnvBool("DB_SOFT_SSL", false) {
		sslMode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(GetEnv("DB_SOFT_USER", ""), GetEnv("DB_SOFT_PASSWORD", "")),
		Host:     fmt.Sprintf("%s:%s", host, GetEnv("DB_SOFT_PORT", "5432")),
		Path:     GetEnv("DB_SOFT_NAME", ""),
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

func (SoftLaunch) GetSoftLaunchMaxConns() int {
	return GetEnvInt("DB_SOFT_MAX_CONNS", 20)
}

func (SoftLaunch) GetReleaseLength() time.Duration {
	return GetEnvDuration("SOFT_LAUNCH_RELEASE_LENGTH", 365*24*time.Hour)
}
