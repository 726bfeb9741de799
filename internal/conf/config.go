// Package conf loads evidencedesk settings with viper.
package conf

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/spf13/viper"
)

// Install strategies for the offline worker.
const (
	InstallAtomic     = "atomic"
	InstallBestEffort = "best_effort"
)

// Cache storage backends.
const (
	StorageMemory = "memory"
	StorageSQL    = "sql"
)

// Settings is the full application configuration.
type Settings struct {
	Log          LogSettings          `mapstructure:"log" yaml:"log"`
	Upload       UploadSettings       `mapstructure:"upload" yaml:"upload"`
	Worker       WorkerSettings       `mapstructure:"worker" yaml:"worker"`
	Sync         SyncSettings         `mapstructure:"sync" yaml:"sync"`
	Datastore    DatastoreSettings    `mapstructure:"datastore" yaml:"datastore"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Metrics      MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
}

type LogSettings struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// UploadSettings configures the evidence upload client.
type UploadSettings struct {
	Endpoint      string   `mapstructure:"endpoint" yaml:"endpoint"`
	IndicatorsURL string   `mapstructure:"indicators_url" yaml:"indicators_url"`
	FileField     string   `mapstructure:"file_field" yaml:"file_field"`
	MaxFiles      int      `mapstructure:"max_files" yaml:"max_files"`
	MaxFileSize   int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	Timeout       Duration `mapstructure:"timeout" yaml:"timeout"` // 0 disables
}

// WorkerSettings configures the offline cache worker and its HTTP listener.
type WorkerSettings struct {
	Listen          string   `mapstructure:"listen" yaml:"listen"`
	Origin          string   `mapstructure:"origin" yaml:"origin"`
	CachePrefix     string   `mapstructure:"cache_prefix" yaml:"cache_prefix"`
	Version         string   `mapstructure:"version" yaml:"version"`
	Manifest        []string `mapstructure:"manifest" yaml:"manifest"`
	Shell           string   `mapstructure:"shell" yaml:"shell"`
	StartURL        string   `mapstructure:"start_url" yaml:"start_url"`
	Denylist        []string `mapstructure:"denylist" yaml:"denylist"`
	InstallStrategy string   `mapstructure:"install_strategy" yaml:"install_strategy"`
	SkipWaiting     bool     `mapstructure:"skip_waiting" yaml:"skip_waiting"`
	Storage         string   `mapstructure:"storage" yaml:"storage"`
	FetchTimeout    Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

// CacheName is the current versioned bucket name.
func (w WorkerSettings) CacheName() string {
	return w.CachePrefix + "-" + w.Version
}

// SyncSettings configures background sync of failed submissions.
type SyncSettings struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Tag      string   `mapstructure:"tag" yaml:"tag"`
	Interval Duration `mapstructure:"interval" yaml:"interval"` // 0 disables the periodic trigger
	Rate     float64  `mapstructure:"rate" yaml:"rate"`         // uploads per second during a drain
}

// DatastoreSettings selects the gorm backend.
type DatastoreSettings struct {
	Type string `mapstructure:"type" yaml:"type"` // sqlite or mysql
	Path string `mapstructure:"path" yaml:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// NotificationSettings configures push notifications sent through shoutrrr.
type NotificationSettings struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	URLs    []string `mapstructure:"urls" yaml:"urls"`
	Title   string   `mapstructure:"title" yaml:"title"`
	Body    string   `mapstructure:"body" yaml:"body"`
}

// MQTTSettings configures outcome event publishing.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// MetricsSettings configures where one-shot commands send their metrics.
// serve exposes its own on /metrics.
type MetricsSettings struct {
	PushGateway string `mapstructure:"pushgateway" yaml:"pushgateway"`
}

type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

var (
	settings   *Settings
	settingsMu sync.RWMutex
)

// GetSettings returns the loaded settings, or nil before Load.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

// SetSettings replaces the global settings. Used by Load and by tests.
func SetSettings(s *Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settings = s
}

// Load reads configuration from configFile (or the default search paths when
// empty), environment variables prefixed EVIDENCEDESK_, and defaults.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EVIDENCEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range configPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("read config: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(fmt.Errorf("decode config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	SetSettings(s)
	return s, nil
}

func configPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "evidencedesk"))
	}
	return append(paths, "/etc/evidencedesk")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.timezone", "")

	v.SetDefault("upload.endpoint", "https://nccnoproxyy.onrender.com/upload-evidence")
	v.SetDefault("upload.indicators_url", "indicators.json")
	v.SetDefault("upload.file_field", "files")
	v.SetDefault("upload.max_files", 10)
	v.SetDefault("upload.max_file_size", 30*1024*1024)
	v.SetDefault("upload.timeout", "0s")

	v.SetDefault("worker.listen", "127.0.0.1:8080")
	v.SetDefault("worker.origin", "http://localhost:3000/")
	v.SetDefault("worker.cache_prefix", "evidence-upload")
	v.SetDefault("worker.version", "v4")
	v.SetDefault("worker.manifest", []string{"./", "./index.html", "./favicon.ico"})
	v.SetDefault("worker.shell", "./index.html")
	v.SetDefault("worker.start_url", "./")
	v.SetDefault("worker.denylist", []string{"tawk.to", "script.google.com"})
	v.SetDefault("worker.install_strategy", InstallAtomic)
	v.SetDefault("worker.skip_waiting", true)
	v.SetDefault("worker.storage", StorageMemory)
	v.SetDefault("worker.fetch_timeout", "30s")

	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.tag", "evidence-sync")
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.rate", 1.0)

	v.SetDefault("datastore.type", "sqlite")
	v.SetDefault("datastore.path", "evidencedesk.db")

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.title", "Evidence Upload")
	v.SetDefault("notification.body", "You have pending evidence uploads. Open the app to review them.")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.topic", "evidencedesk/uploads")

	v.SetDefault("sentry.enabled", false)
}

// Validate checks settings that would otherwise fail later at runtime.
func (s *Settings) Validate() error {
	var problems []string

	if _, err := parseHTTPURL(s.Upload.Endpoint); err != nil {
		problems = append(problems, "upload.endpoint: "+err.Error())
	}
	if s.Upload.MaxFiles <= 0 {
		problems = append(problems, "upload.max_files must be positive")
	}
	if s.Upload.MaxFileSize <= 0 {
		problems = append(problems, "upload.max_file_size must be positive")
	}
	if strings.TrimSpace(s.Upload.FileField) == "" {
		problems = append(problems, "upload.file_field must not be empty")
	}
	if _, err := parseHTTPURL(s.Worker.Origin); err != nil {
		problems = append(problems, "worker.origin: "+err.Error())
	}
	if s.Worker.CachePrefix == "" || s.Worker.Version == "" {
		problems = append(problems, "worker.cache_prefix and worker.version are required")
	}
	switch s.Worker.InstallStrategy {
	case InstallAtomic, InstallBestEffort:
	default:
		problems = append(problems, fmt.Sprintf("worker.install_strategy %q is not one of %s, %s",
			s.Worker.InstallStrategy, InstallAtomic, InstallBestEffort))
	}
	switch s.Worker.Storage {
	case StorageMemory, StorageSQL:
	default:
		problems = append(problems, fmt.Sprintf("worker.storage %q is not one of %s, %s",
			s.Worker.Storage, StorageMemory, StorageSQL))
	}
	switch s.Datastore.Type {
	case "sqlite":
	case "mysql":
		if s.Datastore.DSN == "" {
			problems = append(problems, "datastore.dsn is required for mysql")
		}
	default:
		problems = append(problems, fmt.Sprintf("datastore.type %q is not sqlite or mysql", s.Datastore.Type))
	}
	if s.Sync.Rate < 0 {
		problems = append(problems, "sync.rate must not be negative")
	}
	if s.Metrics.PushGateway != "" {
		if _, err := parseHTTPURL(s.Metrics.PushGateway); err != nil {
			problems = append(problems, "metrics.pushgateway: "+err.Error())
		}
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}
	if s.Log.Timezone != "" {
		if _, err := time.LoadLocation(s.Log.Timezone); err != nil {
			problems = append(problems, "log.timezone: "+err.Error())
		}
	}

	if len(problems) > 0 {
		return errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// UsesDatastore reports whether any enabled component needs the database.
func (s *Settings) UsesDatastore() bool {
	return s.Sync.Enabled || s.Worker.Storage == StorageSQL
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%q is not an http(s) URL", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%q has no host", raw)
	}
	return u, nil
}
