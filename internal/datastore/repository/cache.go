package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/nccevidence/evidencedesk/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCacheEntryNotFound is returned when a bucket has no entry for a key.
var ErrCacheEntryNotFound = errors.New("cache entry not found")

// CacheRepository stores cache buckets and their entries.
type CacheRepository interface {
	EnsureBucket(ctx context.Context, name string) error
	HasBucket(ctx context.Context, name string) (bool, error)
	ListBuckets(ctx context.Context) ([]string, error)
	// DeleteBucket removes a bucket and its entries; false if it did not exist.
	DeleteBucket(ctx context.Context, name string) (bool, error)

	GetEntry(ctx context.Context, bucket, key string) (*entities.CacheEntry, error)
	// PutEntry inserts or replaces an entry in a single statement. It fills
	// in KeyHash from Key.
	PutEntry(ctx context.Context, entry *entities.CacheEntry) error
	DeleteEntry(ctx context.Context, bucket, key string) (bool, error)
	ListKeys(ctx context.Context, bucket string) ([]string, error)
}

type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

func (r *cacheRepository) EnsureBucket(ctx context.Context, name string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entities.CacheBucket{Name: name}).Error
	if err != nil {
		return fmt.Errorf("failed to create cache bucket %s: %w", name, err)
	}
	return nil
}

func (r *cacheRepository) HasBucket(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.CacheBucket{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up cache bucket %s: %w", name, err)
	}
	return count > 0, nil
}

// ListBuckets returns bucket names in creation order.
func (r *cacheRepository) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&entities.CacheBucket{}).
		Order("created_at ASC").Order("name ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache buckets: %w", err)
	}
	return names, nil
}

func (r *cacheRepository) DeleteBucket(ctx context.Context, name string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bucket_name = ?", name).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of %s: %w", name, err)
		}
		result := tx.Where("name = ?", name).Delete(&entities.CacheBucket{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete cache bucket %s: %w", name, result.Error)
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	return deleted, err
}

func (r *cacheRepository) GetEntry(ctx context.Context, bucket, key string) (*entities.CacheEntry, error) {
	var entry entities.CacheEntry
	err := r.db.WithContext(ctx).
		Where("bucket_name = ? AND key_hash = ?", bucket, entities.HashCacheKey(key)).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCacheEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

func (r *cacheRepository) PutEntry(ctx context.Context, entry *entities.CacheEntry) error {
	entry.KeyHash = entities.HashCacheKey(entry.Key)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bucket_name"}, {Name: "key_hash"}},
			UpdateAll: true,
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

func (r *cacheRepository) DeleteEntry(ctx context.Context, bucket, key string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("bucket_name = ? AND key_hash = ?", bucket, entities.HashCacheKey(key)).
		Delete(&entities.CacheEntry{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete cache entry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *cacheRepository) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	var keys []string
	if err := r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Where("bucket_name = ?", bucket).
		Order("stored_at ASC").
		Pluck("request_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}
