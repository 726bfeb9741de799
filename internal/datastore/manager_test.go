package datastore

import (
	"path/filepath"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/nccevidence/evidencedesk/internal/conf"
	"github.com/nccevidence/evidencedesk/internal/datastore/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteManager_Initialize(t *testing.T) {
	mgr, err := NewSQLiteManager(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Initialize())
	assert.False(t, mgr.IsMySQL())

	for _, table := range []any{
		&entities.QueuedSubmission{},
		&entities.QueuedFile{},
		&entities.CacheBucket{},
		&entities.CacheEntry{},
	} {
		assert.True(t, mgr.DB().Migrator().HasTable(table), "table for %T", table)
	}
}

func TestNewManager_SQLiteFromSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.db")

	mgr, err := NewManager(conf.DatastoreSettings{Type: "sqlite", Path: path}, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Initialize())
	assert.FileExists(t, path)
}

func TestNormalizeMySQLDSN(t *testing.T) {
	t.Parallel()

	got, err := normalizeMySQLDSN("evidence:secret@tcp(db:3306)/evidencedesk?loc=Local")
	require.NoError(t, err)

	c, err := mysqldriver.ParseDSN(got)
	require.NoError(t, err)
	assert.True(t, c.ParseTime)
	assert.Equal(t, time.UTC, c.Loc)
	assert.Equal(t, "db:3306", c.Addr)
	assert.Equal(t, "evidencedesk", c.DBName)
	assert.Equal(t, "evidence", c.User)
}

func TestNewMySQLManager_RejectsMalformedDSN(t *testing.T) {
	t.Parallel()

	_, err := NewMySQLManager(Config{DSN: "not a dsn"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse mysql dsn")
}
