package tokencache

import (
	"context"

	"github.com/jrsteele09/go-access-broker/environment"
)

// Repo stores token slots keyed by email and environment.
type Repo interface {
	Put(ctx context.Context, email string, env environment.Environment, token CachedToken) error
	// Get returns errors.ErrNotFound when the slot is empty.
	Get(ctx context.Context, email string, env environment.Environment) (CachedToken, error)
	Delete(ctx context.Context, email string, env environment.Environment) error
	DeleteAll(ctx context.Context, email string) error
	List(ctx context.Context, email string) (map[environment.Environment]CachedToken, error)
	Emails(ctx context.Context) ([]string, error)
}
