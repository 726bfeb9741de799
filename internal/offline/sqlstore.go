package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nccevidence/evidencedesk/internal/datastore/entities"
	"github.com/nccevidence/evidencedesk/internal/datastore/repository"
	"github.com/nccevidence/evidencedesk/internal/errors"
)

// SQLStorage keeps buckets in the gorm datastore so the cache survives
// restarts.
type SQLStorage struct {
	repo repository.CacheRepository
}

// NewSQLStorage wraps a cache repository.
func NewSQLStorage(repo repository.CacheRepository) *SQLStorage {
	return &SQLStorage{repo: repo}
}

func (s *SQLStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := s.repo.EnsureBucket(ctx, name); err != nil {
		return nil, err
	}
	return &sqlCache{bucket: name, storage: s}, nil
}

func (s *SQLStorage) Has(ctx context.Context, name string) (bool, error) {
	return s.repo.HasBucket(ctx, name)
}

func (s *SQLStorage) Delete(ctx context.Context, name string) (bool, error) {
	return s.repo.DeleteBucket(ctx, name)
}

func (s *SQLStorage) Keys(ctx context.Context) ([]string, error) {
	return s.repo.ListBuckets(ctx)
}

func (s *SQLStorage) Match(ctx context.Context, key string) (*Response, error) {
	names, err := s.repo.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		resp, err := s.match(ctx, name, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
	}
	return nil, ErrCacheMiss
}

func (s *SQLStorage) match(ctx context.Context, bucket, key string) (*Response, error) {
	entry, err := s.repo.GetEntry(ctx, bucket, key)
	if errors.Is(err, repository.ErrCacheEntryNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return fromEntry(entry)
}

type sqlCache struct {
	bucket  string
	storage *SQLStorage
}

func (c *sqlCache) Match(ctx context.Context, key string) (*Response, error) {
	return c.storage.match(ctx, c.bucket, key)
}

func (c *sqlCache) Put(ctx context.Context, key string, resp *Response) error {
	entry, err := toEntry(c.bucket, key, resp)
	if err != nil {
		return err
	}
	// The bucket may have been cleared since Open; recreate it like Open would.
	if err := c.storage.repo.EnsureBucket(ctx, c.bucket); err != nil {
		return err
	}
	return c.storage.repo.PutEntry(ctx, entry)
}

func (c *sqlCache) Delete(ctx context.Context, key string) (bool, error) {
	return c.storage.repo.DeleteEntry(ctx, c.bucket, key)
}

func (c *sqlCache) Keys(ctx context.Context) ([]string, error) {
	return c.storage.repo.ListKeys(ctx, c.bucket)
}

func toEntry(bucket, key string, resp *Response) (*entities.CacheEntry, error) {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return nil, fmt.Errorf("encode headers for %s: %w", key, err)
	}
	stored := resp.StoredAt
	if stored.IsZero() {
		stored = time.Now()
	}
	return &entities.CacheEntry{
		BucketName: bucket,
		Key:        key,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Header:     string(header),
		Body:       resp.Body,
		StoredAt:   stored.UTC(),
	}, nil
}

func fromEntry(e *entities.CacheEntry) (*Response, error) {
	header := make(http.Header)
	if e.Header != "" {
		if err := json.Unmarshal([]byte(e.Header), &header); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", e.Key, err)
		}
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	return &Response{
		StatusCode: e.StatusCode,
		Header:     header,
		Body:       body,
		URL:        e.URL,
		StoredAt:   e.StoredAt,
	}, nil
}
