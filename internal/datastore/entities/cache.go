package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CacheBucket is a named, versioned set of captured responses.
type CacheBucket struct {
	Name      string       `gorm:"primaryKey;size:191"`
	CreatedAt time.Time    `gorm:"autoCreateTime"`
	Entries   []CacheEntry `gorm:"foreignKey:BucketName;references:Name;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (CacheBucket) TableName() string {
	return "cache_buckets"
}

// CacheEntry is one captured response keyed by request. Request keys carry
// full URLs, so the primary key uses their SHA-256 instead.
type CacheEntry struct {
	BucketName string    `gorm:"primaryKey;size:191"`
	KeyHash    string    `gorm:"column:key_hash;primaryKey;size:64"`
	Key        string    `gorm:"column:request_key;type:text;not null"`
	URL        string    `gorm:"type:text;not null"`
	StatusCode int       `gorm:"not null"`
	Header     string    `gorm:"type:text"` // JSON-encoded http.Header
	Body       []byte    `gorm:"type:longblob"`
	StoredAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// HashCacheKey returns the fixed-width form of a request key.
func HashCacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
