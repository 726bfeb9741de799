package offline

import (
	"context"
	"fmt"

	"github.com/nccevidence/evidencedesk/internal/conf"
	"github.com/nccevidence/evidencedesk/internal/datastore/repository"
)

// Cache is one named bucket of captured responses. A Put for a key is
// observed whole or not at all.
type Cache interface {
	Match(ctx context.Context, key string) (*Response, error)
	Put(ctx context.Context, key string, resp *Response) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// CacheStorage holds the named buckets.
type CacheStorage interface {
	// Open returns the named bucket, creating it when missing.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes a bucket; false if there was none.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists bucket names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Match looks the key up in every bucket in creation order.
	Match(ctx context.Context, key string) (*Response, error)
}

// NewStorage returns the backend selected by kind. repo is required for the
// sql backend only.
func NewStorage(kind string, repo repository.CacheRepository) (CacheStorage, error) {
	switch kind {
	case conf.StorageMemory, "":
		return NewMemoryStorage(), nil
	case conf.StorageSQL:
		if repo == nil {
			return nil, fmt.Errorf("sql cache storage needs a datastore")
		}
		return NewSQLStorage(repo), nil
	default:
		return nil, fmt.Errorf("unknown cache storage %q", kind)
	}
}
