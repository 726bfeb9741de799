// Package datastore opens the gorm database that backs the background-sync
// outbox and the SQL cache storage.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/nccevidence/evidencedesk/internal/conf"
	"github.com/nccevidence/evidencedesk/internal/datastore/entities"
	"github.com/nccevidence/evidencedesk/internal/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// Manager owns a database connection and its schema.
type Manager interface {
	// Initialize creates or migrates the schema.
	Initialize() error
	DB() *gorm.DB
	Close() error
	IsMySQL() bool
}

type gormManager struct {
	db      *gorm.DB
	isMySQL bool
}

// Config holds connection parameters.
type Config struct {
	// DataDir holds the sqlite file; ignored for mysql.
	DataDir string
	// FileName defaults to evidencedesk.db.
	FileName string
	// DSN is the mysql data source name.
	DSN   string
	Debug bool
}

func gormConfig(debug bool) *gorm.Config {
	level := gorm_logger.Silent
	if debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{Logger: gorm_logger.Default.LogMode(level)}
}

// NewSQLiteManager opens (creating if needed) a sqlite database file.
func NewSQLiteManager(cfg Config) (Manager, error) {
	name := cfg.FileName
	if name == "" {
		name = "evidencedesk.db"
	}
	path := name
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, errors.New(fmt.Errorf("create data dir: %w", err)).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("data_dir", cfg.DataDir).
				Build()
		}
		path = filepath.Join(cfg.DataDir, name)
	}

	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=ON&_busy_timeout=5000"), gormConfig(cfg.Debug))
	if err != nil {
		return nil, errors.New(fmt.Errorf("open sqlite: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}
	// sqlite allows a single writer; one connection avoids SQLITE_BUSY under
	// concurrent fetch handlers.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return &gormManager{db: db}, nil
}

// NewMySQLManager connects to a MySQL server.
func NewMySQLManager(cfg Config) (Manager, error) {
	dsn, err := normalizeMySQLDSN(cfg.DSN)
	if err != nil {
		return nil, errors.New(fmt.Errorf("parse mysql dsn: %w", err)).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	db, err := gorm.Open(mysql.Open(dsn), gormConfig(cfg.Debug))
	if err != nil {
		return nil, errors.New(fmt.Errorf("open mysql: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return &gormManager{db: db, isMySQL: true}, nil
}

// normalizeMySQLDSN makes DATETIME columns scan into time.Time in UTC; the
// outbox orders and reports by timestamp.
func normalizeMySQLDSN(dsn string) (string, error) {
	c, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

// NewManager picks the backend from settings.
func NewManager(s conf.DatastoreSettings, debug bool) (Manager, error) {
	switch s.Type {
	case "mysql":
		return NewMySQLManager(Config{DSN: s.DSN, Debug: debug})
	default:
		return NewSQLiteManager(Config{
			DataDir:  filepath.Dir(s.Path),
			FileName: filepath.Base(s.Path),
			Debug:    debug,
		})
	}
}

func (m *gormManager) Initialize() error {
	err := m.db.AutoMigrate(
		&entities.QueuedSubmission{},
		&entities.QueuedFile{},
		&entities.CacheBucket{},
		&entities.CacheEntry{},
	)
	if err != nil {
		return errors.New(fmt.Errorf("migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

func (m *gormManager) DB() *gorm.DB { return m.db }

func (m *gormManager) IsMySQL() bool { return m.isMySQL }

func (m *gormManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
