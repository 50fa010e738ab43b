package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	goredis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "tokencache:"
	defaultUserTTL = 24 * time.Hour
)

// RedisRepo keeps one hash per email with a field per environment,
// so several broker replicas can share minted tokens.
type RedisRepo struct {
	client *goredis.Client
	ttl    time.Duration
}

var _ Repo = (*RedisRepo)(nil)

// NewRedisRepo stores user hashes for ttl after their last write.
func NewRedisRepo(client *goredis.Client, ttl time.Duration) *RedisRepo {
	if ttl <= 0 {
		ttl = defaultUserTTL
	}
	return &RedisRepo{client: client, ttl: ttl}
}

// NewRedisClient parses url and pings the server before returning.
func NewRedisClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid redis url")
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping failed")
	}
	return client, nil
}

func (r *RedisRepo) Put(ctx context.Context, email string, env environment.Environment, token CachedToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}

	key := r.key(email)
	_, err = r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key, env.String(), payload)
		p.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

func (r *RedisRepo) Get(ctx context.Context, email string, env environment.Environment) (CachedToken, error) {
	raw, err := r.client.HGet(ctx, r.key(email), env.String()).Result()
	if err != nil {
		if err == goredis.Nil {
			return CachedToken{}, errors.ErrNotFound
		}
		return CachedToken{}, err
	}

	var token CachedToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return CachedToken{}, fmt.Errorf("corrupt cached token for %s: %w", env, err)
	}
	return token, nil
}

func (r *RedisRepo) Delete(ctx context.Context, email string, env environment.Environment) error {
	return r.client.HDel(ctx, r.key(email), env.String()).Err()
}

func (r *RedisRepo) DeleteAll(ctx context.Context, email string) error {
	return r.client.Del(ctx, r.key(email)).Err()
}

func (r *RedisRepo) List(ctx context.Context, email string) (map[environment.Environment]CachedToken, error) {
	fields, err := r.client.HGetAll(ctx, r.key(email)).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[environment.Environment]CachedToken, len(fields))
	for field, raw := range fields {
		env, err := environment.Parse(field)
		if err != nil {
			continue
		}
		var token CachedToken
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			continue
		}
		out[env] = token
	}
	return out, nil
}

func (r *RedisRepo) Emails(ctx context.Context) ([]string, error) {
	var emails []string
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		emails = append(emails, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *RedisRepo) key(email string) string {
	return redisKeyPrefix + email
}
