// Package auth implements the login and logout use cases around the session store.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-access-broker/cipher"
	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/jrsteele09/go-access-broker/sessions"
	"github.com/jrsteele09/go-access-broker/tokencache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CredentialValidator checks a username and password with the identity provider.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context, app config.Application, username, password string) error
}

// Warmer mints tokens for environments without blocking the caller.
type Warmer interface {
	WarmEnvironments(ctx context.Context, email, password string, envs []environment.Environment) <-chan struct{}
}

// Services holds the collaborators of the AuthenticationService
type Services struct {
	Sessions    *sessions.Store
	Tokens      *tokencache.Cache
	Credentials CredentialValidator
	Warmer      Warmer
}

// Settings are the configuration values login needs
type Settings struct {
	EncryptionKey    string
	SessionDuration  time.Duration
	LoginApplication config.Application
}

type AuthenticationService struct {
	services Services
	settings Settings
	logger   zerolog.Logger
}

type AuthenticationServiceOption func(*AuthenticationService)

func WithLogger(l zerolog.Logger) AuthenticationServiceOption {
	return func(as *AuthenticationService) {
		as.logger = l
	}
}

func NewAuthenticationService(services Services, settings Settings, opts ...AuthenticationServiceOption) *AuthenticationService {
	as := &AuthenticationService{
		services: services,
		settings: settings,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(as)
	}
	return as
}

type LoginResult struct {
	Bearer  string
	Session sessions.Session
	// Warmed closes once background token generation for dev and hml has finished.
	Warmed <-chan struct{}
}

// Login validates the credentials once, stores the encrypted password in a new
// session and starts minting dev and hml tokens in the background.
func (as *AuthenticationService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return LoginResult{}, errors.Wrapf(errors.ErrInvalidRequest, "email and password are required")
	}

	if err := as.services.Credentials.ValidateCredentials(ctx, as.settings.LoginApplication, email, password); err != nil {
		as.logger.Info().Str("email", email).Err(err).Msg("login rejected")
		return LoginResult{}, err
	}

	encrypted, err := cipher.Encrypt(password, as.settings.EncryptionKey)
	if err != nil {
		return LoginResult{}, errors.Wrapf(err, "failed to protect password")
	}

	bearer, session, err := as.services.Sessions.Create(email, encrypted, as.settings.SessionDuration)
	if err != nil {
		return LoginResult{}, err
	}

	as.logger.Info().Str("email", email).Msg("login succeeded, warming non production tokens")
	warmed := as.services.Warmer.WarmEnvironments(ctx, email, password, environment.NonProduction())

	return LoginResult{Bearer: bearer, Session: session, Warmed: warmed}, nil
}

// Logout destroys the session and drops every cached token of its user.
// It never fails from the caller's point of view.
func (as *AuthenticationService) Logout(ctx context.Context, bearer string) {
	lookup, err := as.services.Sessions.Validate(bearer)
	as.services.Sessions.Destroy(bearer)
	if err != nil {
		return
	}

	if err := as.services.Tokens.ClearAll(ctx, lookup.Session.Email); err != nil {
		as.logger.Warn().Err(err).Str("email", lookup.Session.Email).Msg("failed to clear tokens on logout")
	}
	as.logger.Info().Str("email", lookup.Session.Email).Msg("logout")
}

// Authenticate resolves a bearer token to its session.
func (as *AuthenticationService) Authenticate(bearer string) (sessions.Lookup, error) {
	return as.services.Sessions.Validate(bearer)
}

// ResolvePassword returns the password to use for minting a token in env.
// Production always needs the password supplied with the request. Other
// environments use the one stored in the session, which reconstructed sessions lack.
func (as *AuthenticationService) ResolvePassword(lookup sessions.Lookup, env environment.Environment, provided string) (string, error) {
	if env.IsSensitive() {
		if provided == "" {
			return "", errors.Wrapf(errors.ErrCredentialsRequired, "%s requires the password", env.Label())
		}
		return provided, nil
	}

	if provided != "" {
		return provided, nil
	}
	if !lookup.Session.HasPassword() {
		return "", errors.Wrapf(errors.ErrCredentialsRequired, "session was restored without a password")
	}

	password, err := cipher.Decrypt(lookup.Session.EncryptedPassword, as.settings.EncryptionKey)
	if err != nil {
		return "", errors.Wrapf(err, "failed to recover session password")
	}
	return password, nil
}
