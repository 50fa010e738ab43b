package config

import "time"

type CacheConfig interface {
	GetRedisURL() string
	GetWarmTimeout() time.Duration
}

type Cache struct{}

var _ CacheConfig = Cache{}

// GetRedisURL selects the shared token cache when set; otherwise tokens stay in memory.
func (Cache) GetRedisURL() string {
	return GetEnv("REDIS_URL", "")
}

func (Cache) GetWarmTimeout() time.Duration {
	return GetEnvDuration("TOKEN_WARM_TIMEOUT", 30*time.Second)
}
