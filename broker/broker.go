// Package broker hands out downstream access tokens for a user and environment,
// reusing cached tokens and falling back to the identity provider on a miss.
package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/idp"
	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/jrsteele09/go-access-broker/tokencache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultWarmTimeout     = 30 * time.Second
	defaultExchangeTimeout = 30 * time.Second
)

type TokenStatus string

const (
	StatusCached  TokenStatus = "cached"
	StatusNew     TokenStatus = "new"
	StatusRenewed TokenStatus = "renewed"
)

// Exchanger performs grants against the identity provider.
type Exchanger interface {
	PasswordGrant(ctx context.Context, app config.Application, username, password string) (idp.Grant, error)
	RefreshGrant(ctx context.Context, app config.Application, refreshToken string) (idp.Grant, error)
}

// Applications maps an environment to its identity provider registration.
type Applications interface {
	GetApplication(env environment.Environment) config.Application
}

type Result struct {
	AccessToken      string
	RefreshToken     string
	MinutesRemaining int
	FromCache        bool
	Status           TokenStatus
	Environment      environment.Environment
}

type Broker struct {
	cache       *tokencache.Cache
	exchanger   Exchanger
	apps        Applications
	metrics     *Metrics
	group       singleflight.Group
	nowFunc     func() time.Time
	warmTimeout time.Duration
	// bounds a shared exchange, which outlives any single caller's context
	exchangeTimeout time.Duration
	logger          zerolog.Logger
}

type Option func(*Broker)

func WithNowFunc(f func() time.Time) Option {
	return func(b *Broker) {
		b.nowFunc = f
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

func WithWarmTimeout(d time.Duration) Option {
	return func(b *Broker) {
		b.warmTimeout = d
	}
}

func WithExchangeTimeout(d time.Duration) Option {
	return func(b *Broker) {
		b.exchangeTimeout = d
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

func New(cache *tokencache.Cache, exchanger Exchanger, apps Applications, opts ...Option) *Broker {
	b := &Broker{
		cache:       cache,
		exchanger:   exchanger,
		apps:        apps,
		nowFunc:         time.Now,
		warmTimeout:     defaultWarmTimeout,
		exchangeTimeout: defaultExchangeTimeout,
		logger:          log.Logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return b
}

// GetOrGenerate returns a cached token for email in env or mints a new one with
// the password grant. Concurrent misses for the same user and environment share
// one exchange, which a cancelled caller does not abort. Failed exchanges are never cached.
func (b *Broker) GetOrGenerate(ctx context.Context, email, password string, env environment.Environment) (Result, error) {
	if !env.Valid() {
		return Result{}, errors.Wrapf(errors.ErrInvalidEnvironment, "%q", env)
	}

	if token, ok := b.cache.Get(ctx, email, env); ok {
		b.metrics.Requests.WithLabelValues(env.String(), string(StatusCached)).Inc()
		return Result{
			AccessToken:      token.AccessToken,
			RefreshToken:     token.RefreshToken,
			MinutesRemaining: tokencache.MinutesRemaining(token.Remaining(b.nowFunc())),
			FromCache:        true,
			Status:           StatusCached,
			Environment:      env,
		}, nil
	}

	v, err, _ := b.group.Do(email+"|"+env.String(), func() (any, error) {
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.exchangeTimeout)
		defer cancel()

		b.logger.Info().Str("email", email).Str("environment", env.String()).Msg("requesting new token")
		grant, err := b.exchanger.PasswordGrant(exCtx, b.apps.GetApplication(env), email, password)
		b.countExchange(env, grantPassword, err)
		if err != nil {
			return idp.Grant{}, err
		}
		b.store(exCtx, email, env, grant)
		return grant, nil
	})
	if err != nil {
		b.metrics.Requests.WithLabelValues(env.String(), outcomeError).Inc()
		b.logger.Warn().Err(err).Str("email", email).Str("environment", env.String()).Msg("token generation failed")
		return Result{}, err
	}

	b.metrics.Requests.WithLabelValues(env.String(), string(StatusNew)).Inc()
	return b.result(v.(idp.Grant), env, StatusNew), nil
}

// Refresh redeems refreshToken once and repopulates the cache. It does not retry.
func (b *Broker) Refresh(ctx context.Context, email, refreshToken string, env environment.Environment) (Result, error) {
	if !env.Valid() {
		return Result{}, errors.Wrapf(errors.ErrInvalidEnvironment, "%q", env)
	}

	grant, err := b.exchanger.RefreshGrant(ctx, b.apps.GetApplication(env), refreshToken)
	b.countExchange(env, grantRefresh, err)
	if err != nil {
		b.metrics.Requests.WithLabelValues(env.String(), outcomeError).Inc()
		b.logger.Warn().Err(err).Str("email", email).Str("environment", env.String()).Msg("token refresh failed")
		return Result{}, err
	}

	b.store(ctx, email, env, grant)
	b.metrics.Requests.WithLabelValues(env.String(), string(StatusRenewed)).Inc()
	return b.result(grant, env, StatusRenewed), nil
}

// RefreshCached refreshes using the refresh token already cached for email in env,
// even when the access token is inside the expiry margin.
func (b *Broker) RefreshCached(ctx context.Context, email string, env environment.Environment) (Result, error) {
	token, ok := b.cache.Peek(ctx, email, env)
	if !ok || token.RefreshToken == "" {
		return Result{}, errors.Wrapf(errors.ErrNotFound, "no cached %s token", env)
	}
	return b.Refresh(ctx, email, token.RefreshToken, env)
}

// WarmEnvironments mints tokens for envs in the background. It returns at once;
// the channel closes when every environment has finished. Failures are only logged.
func (b *Broker) WarmEnvironments(ctx context.Context, email, password string, envs []environment.Environment) <-chan struct{} {
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.warmTimeout)

	go func() {
		defer close(done)
		defer cancel()

		var wg sync.WaitGroup
		for _, env := range envs {
			wg.Add(1)
			go func(env environment.Environment) {
				defer wg.Done()
				res, err := b.GetOrGenerate(ctx, email, password, env)
				if err != nil {
					b.logger.Warn().Err(err).Str("email", email).Str("environment", env.String()).Msg("background token warm failed")
					return
				}
				b.logger.Info().Str("email", email).Str("environment", env.String()).
					Str("status", string(res.Status)).Msg("background token ready")
			}(env)
		}
		wg.Wait()
	}()

	return done
}

func (b *Broker) store(ctx context.Context, email string, env environment.Environment, grant idp.Grant) {
	if err := b.cache.Set(ctx, email, env, grant.AccessToken, grant.RefreshToken, grant.ExpiresIn); err != nil {
		b.logger.Warn().Err(err).Str("email", email).Str("environment", env.String()).Msg("failed to cache token")
	}
}

func (b *Broker) result(grant idp.Grant, env environment.Environment, status TokenStatus) Result {
	expiresIn := grant.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = tokencache.DefaultExpiresIn
	}
	return Result{
		AccessToken:      grant.AccessToken,
		RefreshToken:     grant.RefreshToken,
		MinutesRemaining: expiresIn / 60,
		FromCache:        false,
		Status:           status,
		Environment:      env,
	}
}

func (b *Broker) countExchange(env environment.Environment, grant string, err error) {
	b.metrics.Exchanges.WithLabelValues(env.String(), grant, strconv.FormatBool(err == nil)).Inc()
}
