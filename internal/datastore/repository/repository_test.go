package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nccevidence/evidencedesk/internal/datastore/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database. Each test gets its own
// named database; a single connection keeps every query on it.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=ON"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&entities.QueuedSubmission{},
		&entities.QueuedFile{},
		&entities.CacheBucket{},
		&entities.CacheEntry{},
	)
	require.NoError(t, err, "failed to migrate tables")
	return db
}

func newQueued(name string, files int) *entities.QueuedSubmission {
	sub := &entities.QueuedSubmission{
		ID:           uuid.NewString(),
		OfficerEmail: "officer@example.org",
		EvidenceName: name,
		Category:     "Health",
		Indicator:    "Clinics inspected",
		SubCounty:    "Westlands",
	}
	for i := range files {
		sub.Files = append(sub.Files, entities.QueuedFile{
			Name:        name + ".pdf",
			ContentType: "application/pdf",
			Size:        4,
			Data:        []byte("%PDF"),
			SortOrder:   i,
		})
	}
	return sub
}

func TestOutboxRepository_EnqueueAndList(t *testing.T) {
	repo := NewOutboxRepository(setupTestDB(t))
	ctx := t.Context()

	first := newQueued("report-a", 2)
	require.NoError(t, repo.Enqueue(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := newQueued("report-b", 1)
	require.NoError(t, repo.Enqueue(ctx, second))

	subs, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, first.ID, subs[0].ID, "oldest first")
	require.Len(t, subs[0].Files, 2)
	assert.Equal(t, []byte("%PDF"), subs[0].Files[0].Data)
	assert.Equal(t, second.ID, subs[1].ID)

	limited, err := repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestOutboxRepository_EnqueueRequiresID(t *testing.T) {
	repo := NewOutboxRepository(setupTestDB(t))
	sub := newQueued("report", 1)
	sub.ID = ""
	assert.Error(t, repo.Enqueue(t.Context(), sub))
}

func TestOutboxRepository_RecordFailureAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := t.Context()

	sub := newQueued("report", 1)
	require.NoError(t, repo.Enqueue(ctx, sub))

	require.NoError(t, repo.RecordFailure(ctx, sub.ID, "status 502"))
	require.NoError(t, repo.RecordFailure(ctx, sub.ID, "status 503"))

	got, err := repo.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "status 503", got.LastError)

	require.NoError(t, repo.Delete(ctx, sub.ID))
	_, err = repo.Get(ctx, sub.ID)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	var files int64
	require.NoError(t, db.Model(&entities.QueuedFile{}).Count(&files).Error)
	assert.Zero(t, files, "files are removed with their submission")

	assert.ErrorIs(t, repo.Delete(ctx, sub.ID), ErrSubmissionNotFound)
	assert.ErrorIs(t, repo.RecordFailure(ctx, sub.ID, "x"), ErrSubmissionNotFound)
}

func TestCacheRepository_Buckets(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.EnsureBucket(ctx, "evidence-upload-v3"))
	require.NoError(t, repo.EnsureBucket(ctx, "evidence-upload-v4"))
	require.NoError(t, repo.EnsureBucket(ctx, "evidence-upload-v4"), "ensure is idempotent")

	names, err := repo.ListBuckets(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"evidence-upload-v3", "evidence-upload-v4"}, names)

	has, err := repo.HasBucket(ctx, "evidence-upload-v3")
	require.NoError(t, err)
	assert.True(t, has)

	deleted, err := repo.DeleteBucket(ctx, "evidence-upload-v3")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteBucket(ctx, "evidence-upload-v3")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCacheRepository_Entries(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := t.Context()
	const bucket = "evidence-upload-v4"
	require.NoError(t, repo.EnsureBucket(ctx, bucket))

	entry := &entities.CacheEntry{
		BucketName: bucket,
		Key:        "GET https://example.org/index.html",
		URL:        "https://example.org/index.html",
		StatusCode: 200,
		Header:     `{"Content-Type":["text/html"]}`,
		Body:       []byte("<html>v1</html>"),
		StoredAt:   time.Now(),
	}
	require.NoError(t, repo.PutEntry(ctx, entry))

	entry.Body = []byte("<html>v2</html>")
	require.NoError(t, repo.PutEntry(ctx, entry), "put replaces")

	got, err := repo.GetEntry(ctx, bucket, entry.Key)
	require.NoError(t, err)
	assert.Equal(t, "<html>v2</html>", string(got.Body))
	assert.Equal(t, 200, got.StatusCode)

	keys, err := repo.ListKeys(ctx, bucket)
	require.NoError(t, err)
	assert.Equal(t, []string{entry.Key}, keys)

	_, err = repo.GetEntry(ctx, bucket, "GET https://example.org/missing")
	assert.ErrorIs(t, err, ErrCacheEntryNotFound)

	removed, err := repo.DeleteEntry(ctx, bucket, entry.Key)
	require.NoError(t, err)
	assert.True(t, removed)

	// Deleting the bucket drops remaining entries too.
	require.NoError(t, repo.PutEntry(ctx, entry))
	_, err = repo.DeleteBucket(ctx, bucket)
	require.NoError(t, err)
	_, err = repo.GetEntry(ctx, bucket, entry.Key)
	assert.ErrorIs(t, err, ErrCacheEntryNotFound)
}

func TestCacheRepository_LongRequestKey(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := t.Context()
	const bucket = "evidence-upload-v4"
	require.NoError(t, repo.EnsureBucket(ctx, bucket))

	u := "https://example.org/reports?filter=" + strings.Repeat("a", 3000)
	entry := &entities.CacheEntry{
		BucketName: bucket,
		Key:        "GET " + u,
		URL:        u,
		StatusCode: 200,
		Body:       []byte("report"),
		StoredAt:   time.Now(),
	}
	require.NoError(t, repo.PutEntry(ctx, entry))
	assert.Len(t, entry.KeyHash, 64)

	got, err := repo.GetEntry(ctx, bucket, "GET "+u)
	require.NoError(t, err)
	assert.Equal(t, u, got.URL)
	assert.Equal(t, "GET "+u, got.Key)

	keys, err := repo.ListKeys(ctx, bucket)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET " + u}, keys)

	// A key sharing the long prefix is a different entry.
	_, err = repo.GetEntry(ctx, bucket, "GET "+u[:len(u)-1])
	assert.ErrorIs(t, err, ErrCacheEntryNotFound)
}
