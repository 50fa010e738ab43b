package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-access-broker/environment"
)

const (
	portEnvVar  = "PORT"
	appNameVar  = "APP_NAME"
	envVar      = "ENV"
	logLevelVar = "LOG_LEVEL"
)

var defaultURLBases = map[environment.Environment]string{
	environment.Dev:  "https://cloudapp-dev.animaeducacao.com.br/rematricula",
	environment.Hml:  "https://cloudapp-hml.animaeducacao.com.br/rematricula",
	environment.Prod: "https://cloudapp.animaeducacao.com.br/rematricula",
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Access Broker")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return strings.ToUpper(env)
}

func (e EnvVars) IsProduction() bool {
	env := e.GetEnv()
	return env == "PROD" || env == "PRODUCTION"
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetURLBase returns the base URL access links are built on for env.
func (EnvVars) GetURLBase(env environment.Environment) string {
	return GetEnv("URL_BASE_"+env.Label(), defaultURLBases[env])
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses a Go duration ("30m", "8h"), falling back on error.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvMillis parses a duration expressed as whole milliseconds.
func GetEnvMillis(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

func GetEnvInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func GetEnvBool(envVar string, defaultValue bool) bool {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
