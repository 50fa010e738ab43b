// Package tokencache keeps downstream token pairs per user and environment.
//
// A token is only handed out while more than Margin of its lifetime remains,
// so callers never receive a token that may expire mid-request.
package tokencache

import (
	"context"
	"sort"
	"time"

	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	Margin           = 5 * time.Minute
	DefaultExpiresIn = 3600
)

type Cache struct {
	repo    Repo
	nowFunc func() time.Time
	logger  zerolog.Logger
}

type Option func(*Cache)

func WithNowFunc(f func() time.Time) Option {
	return func(c *Cache) {
		c.nowFunc = f
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

func New(repo Repo, opts ...Option) *Cache {
	c := &Cache{
		repo:    repo,
		nowFunc: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set overwrites the slot for email and env. A non-positive expiresInSeconds uses DefaultExpiresIn.
func (c *Cache) Set(ctx context.Context, email string, env environment.Environment, access, refresh string, expiresInSeconds int) error {
	if expiresInSeconds <= 0 {
		expiresInSeconds = DefaultExpiresIn
	}
	now := c.nowFunc()
	token := CachedToken{
		AccessToken:  access,
		RefreshToken: refresh,
		Environment:  env,
		ExpiresAt:    now.Add(time.Duration(expiresInSeconds) * time.Second),
		CreatedAt:    now,
	}
	if err := c.repo.Put(ctx, email, env, token); err != nil {
		return errors.Wrapf(err, "failed to cache %s token", env)
	}

	c.logger.Debug().Str("email", email).Str("environment", env.String()).
		Int("expires_in", expiresInSeconds).Msg("token cached")
	return nil
}

// Get returns the cached token when at least Margin of validity remains.
// Repository failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, email string, env environment.Environment) (CachedToken, bool) {
	token, err := c.repo.Get(ctx, email, env)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			c.logger.Warn().Err(err).Str("email", email).Str("environment", env.String()).Msg("token cache read failed")
		}
		c.logger.Debug().Str("email", email).Str("environment", env.String()).Str("reason", "absent").Msg("token cache miss")
		return CachedToken{}, false
	}

	remaining := token.Remaining(c.nowFunc())
	if remaining < Margin {
		c.logger.Debug().Str("email", email).Str("environment", env.String()).Str("reason", "expiring").Msg("token cache miss")
		return CachedToken{}, false
	}

	c.logger.Debug().Str("email", email).Str("environment", env.String()).
		Int("minutes_remaining", MinutesRemaining(remaining)).Msg("token cache hit")
	return token, true
}

// Peek returns whatever is stored for email and env, ignoring the expiry margin.
func (c *Cache) Peek(ctx context.Context, email string, env environment.Environment) (CachedToken, bool) {
	token, err := c.repo.Get(ctx, email, env)
	if err != nil {
		return CachedToken{}, false
	}
	return token, true
}

func (c *Cache) ClearOne(ctx context.Context, email string, env environment.Environment) error {
	if err := c.repo.Delete(ctx, email, env); err != nil {
		return errors.Wrapf(err, "failed to clear %s token", env)
	}
	return nil
}

func (c *Cache) ClearAll(ctx context.Context, email string) error {
	if err := c.repo.DeleteAll(ctx, email); err != nil {
		return errors.Wrapf(err, "failed to clear tokens")
	}
	c.logger.Debug().Str("email", email).Msg("tokens cleared")
	return nil
}

// Status reports every environment slot for email. Slots inside the margin
// still exist but report zero minutes; a slot exactly at the margin is still usable.
func (c *Cache) Status(ctx context.Context, email string) (Status, error) {
	tokens, err := c.repo.List(ctx, email)
	if err != nil {
		return Status{}, errors.Wrapf(err, "failed to list tokens")
	}

	now := c.nowFunc()
	slot := func(env environment.Environment) SlotStatus {
		token, ok := tokens[env]
		if !ok {
			return SlotStatus{Exists: false}
		}
		remaining := token.Remaining(now)
		minutes := 0
		if remaining >= Margin {
			minutes = MinutesRemaining(remaining)
		}
		return SlotStatus{
			Exists:           true,
			ExpiresAt:        ptr(token.ExpiresAt.UnixMilli()),
			MinutesRemaining: ptr(minutes),
		}
	}

	return Status{
		Dev:  slot(environment.Dev),
		Hml:  slot(environment.Hml),
		Prod: slot(environment.Prod),
	}, nil
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	emails, err := c.repo.Emails(ctx)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "failed to list cached users")
	}
	sort.Strings(emails)

	stats := Stats{Users: make([]UserStats, 0, len(emails))}
	for _, email := range emails {
		tokens, err := c.repo.List(ctx, email)
		if err != nil {
			return Stats{}, errors.Wrapf(err, "failed to list tokens")
		}
		if len(tokens) == 0 {
			continue
		}
		envs := make([]environment.Environment, 0, len(tokens))
		for _, env := range environment.All() {
			if _, ok := tokens[env]; ok {
				envs = append(envs, env)
			}
		}
		stats.Users = append(stats.Users, UserStats{Email: email, Environments: envs})
		stats.TotalTokens += len(envs)
	}
	stats.TotalUsers = len(stats.Users)
	return stats, nil
}

// MinutesRemaining floors d to whole minutes.
func MinutesRemaining(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

func ptr[T any](v T) *T {
	return &v
}
