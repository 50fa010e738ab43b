package environment

import (
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/go-access-broker/internal/errors"
)

// Environment is one of the downstream deployment targets a user can mint tokens for.
type Environment string

const (
	Dev  Environment = "dev"
	Hml  Environment = "hml"
	Prod Environment = "prod"
)

// All returns every environment in display order.
func All() []Environment {
	return []Environment{Dev, Hml, Prod}
}

// NonProduction returns the environments that are warmed at login.
func NonProduction() []Environment {
	return []Environment{Dev, Hml}
}

// Parse converts user input (case-insensitive) into an Environment.
func Parse(s string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if !env.Valid() {
		return "", fmt.Errorf("%q: %w", s, apperrors.ErrInvalidEnvironment)
	}
	return env, nil
}

func (e Environment) Valid() bool {
	switch e {
	case Dev, Hml, Prod:
		return true
	}
	return false
}

// IsSensitive reports whether the environment requires the password to be
// supplied with every request instead of being read from the session.
func (e Environment) IsSensitive() bool {
	return e == Prod
}

func (e Environment) String() string {
	return string(e)
}

// Label is the upper-case form used in log lines.
func (e Environment) Label() string {
	return strings.ToUpper(string(e))
}
