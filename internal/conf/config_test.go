package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "https://nccnoproxyy.onrender.com/upload-evidence", s.Upload.Endpoint)
	assert.Equal(t, "files", s.Upload.FileField)
	assert.Equal(t, 10, s.Upload.MaxFiles)
	assert.Equal(t, int64(31457280), s.Upload.MaxFileSize)
	assert.Equal(t, "evidence-upload-v4", s.Worker.CacheName())
	assert.Equal(t, "127.0.0.1:8080", s.Worker.Listen, "loopback unless configured otherwise")
	assert.Equal(t, []string{"./", "./index.html", "./favicon.ico"}, s.Worker.Manifest)
	assert.Equal(t, []string{"tawk.to", "script.google.com"}, s.Worker.Denylist)
	assert.Equal(t, InstallAtomic, s.Worker.InstallStrategy)
	assert.True(t, s.Worker.SkipWaiting)
	assert.Equal(t, Duration(30*time.Second), s.Worker.FetchTimeout)
	assert.Equal(t, Duration(5*time.Minute), s.Sync.Interval)
	assert.Same(t, s, GetSettings())
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	path := writeConfig(t, `
upload:
  file_field: "files[]"
  timeout: 2m
worker:
  version: v5
  install_strategy: best_effort
  storage: sql
sync:
  enabled: true
  interval: 45
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "files[]", s.Upload.FileField)
	assert.Equal(t, Duration(2*time.Minute), s.Upload.Timeout)
	assert.Equal(t, "evidence-upload-v5", s.Worker.CacheName())
	assert.Equal(t, InstallBestEffort, s.Worker.InstallStrategy)
	assert.Equal(t, Duration(45*time.Second), s.Sync.Interval)
	assert.True(t, s.UsesDatastore())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("EVIDENCEDESK_WORKER_VERSION", "v9")
	path := writeConfig(t, "")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "evidence-upload-v9", s.Worker.CacheName())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Upload: UploadSettings{
				Endpoint:    "https://example.org/upload",
				FileField:   "files",
				MaxFiles:    10,
				MaxFileSize: 1024,
			},
			Worker: WorkerSettings{
				Origin:          "http://localhost:3000/",
				CachePrefix:     "evidence-upload",
				Version:         "v4",
				InstallStrategy: InstallAtomic,
				Storage:         StorageMemory,
			},
			Datastore: DatastoreSettings{Type: "sqlite"},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"bad endpoint scheme", func(s *Settings) { s.Upload.Endpoint = "ftp://x/upload" }, "upload.endpoint"},
		{"zero max files", func(s *Settings) { s.Upload.MaxFiles = 0 }, "upload.max_files"},
		{"empty file field", func(s *Settings) { s.Upload.FileField = " " }, "upload.file_field"},
		{"unknown strategy", func(s *Settings) { s.Worker.InstallStrategy = "lazy" }, "worker.install_strategy"},
		{"unknown storage", func(s *Settings) { s.Worker.Storage = "disk" }, "worker.storage"},
		{"mysql without dsn", func(s *Settings) { s.Datastore.Type = "mysql" }, "datastore.dsn"},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true }, "mqtt.broker"},
		{"bad timezone", func(s *Settings) { s.Log.Timezone = "Mars/Olympus" }, "log.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
