package tokencache

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/internal/errors"
)

type InMemoryRepo struct {
	mu     sync.RWMutex
	tokens map[string]map[environment.Environment]CachedToken // email -> env -> token
}

var _ Repo = (*InMemoryRepo)(nil)

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		tokens: make(map[string]map[environment.Environment]CachedToken),
	}
}

func (r *InMemoryRepo) Put(_ context.Context, email string, env environment.Environment, token CachedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[email]; !ok {
		r.tokens[email] = make(map[environment.Environment]CachedToken)
	}
	r.tokens[email][env] = token
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, email string, env environment.Environment) (CachedToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, ok := r.tokens[email][env]
	if !ok {
		return CachedToken{}, errors.ErrNotFound
	}
	return token, nil
}

func (r *InMemoryRepo) Delete(_ context.Context, email string, env environment.Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	userTokens, ok := r.tokens[email]
	if !ok {
		return nil
	}
	delete(userTokens, env)
	if len(userTokens) == 0 {
		delete(r.tokens, email)
	}
	return nil
}

func (r *InMemoryRepo) DeleteAll(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, email)
	return nil
}

func (r *InMemoryRepo) List(_ context.Context, email string) (map[environment.Environment]CachedToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[environment.Environment]CachedToken, len(r.tokens[email]))
	for env, t := range r.tokens[email] {
		out[env] = t
	}
	return out, nil
}

func (r *InMemoryRepo) Emails(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	emails := make([]string, 0, len(r.tokens))
	for email := range r.tokens {
		emails = append(emails, email)
	}
	return emails, nil
}
