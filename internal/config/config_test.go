package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8095, cfg.Admin.Port)
	assert.Equal(t, "channel", cfg.Sink.Type)
	assert.Equal(t, 1000, cfg.Sink.Buffer)
	assert.Equal(t, "block", cfg.Sink.Overflow)
	assert.Equal(t, "memory", cfg.Cursor.Backend)
	assert.Equal(t, time.Second, cfg.Runner.BackoffBase)
	assert.Equal(t, 2*time.Minute, cfg.Runner.BackoffMax)
	assert.Equal(t, 3, cfg.Runner.MaxAuthRetries)
	assert.Equal(t, 5, cfg.Runner.MaxConsecutiveFailures)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
admin:
  port: 9095

sink:
  type: nats
  overflow: drop
  nats:
    url: nats://broker:4222
    subject_prefix: events.raw
    timeout: 10s

cursor:
  backend: redis
  redis:
    url: redis://localhost:6379/2

runner:
  backoff_base: 500ms
  backoff_max: 30s
  max_auth_retries: 5

logging:
  level: debug
  format: text
`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9095, cfg.Admin.Port)
	assert.Equal(t, "nats", cfg.Sink.Type)
	assert.Equal(t, "drop", cfg.Sink.Overflow)
	assert.Equal(t, "nats://broker:4222", cfg.Sink.NATS.URL)
	assert.Equal(t, "events.raw", cfg.Sink.NATS.SubjectPrefix)
	assert.Equal(t, 10*time.Second, cfg.Sink.NATS.Timeout)
	assert.Equal(t, "redis", cfg.Cursor.Backend)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Cursor.Redis.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.Runner.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Runner.BackoffMax)
	assert.Equal(t, 5, cfg.Runner.MaxAuthRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unspecified values keep defaults.
	assert.Equal(t, 1000, cfg.Sink.Buffer)
	assert.Equal(t, 5, cfg.Runner.MaxConsecutiveFailures)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	os.Setenv("EDASE_ADMIN_PORT", "7777")
	os.Setenv("EDASE_LOGGING_LEVEL", "warn")
	defer func() {
		os.Unsetenv("EDASE_ADMIN_PORT")
		os.Unsetenv("EDASE_LOGGING_LEVEL")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configPath, []byte("admin:\n  port: 8095\nlogging:\n  level: info\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Admin.Port, "Environment variable should override file value")
	assert.Equal(t, "warn", cfg.Logging.Level, "Environment variable should override file value")
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown sink type", "sink:\n  type: kafka\n"},
		{"unknown cursor backend", "cursor:\n  backend: etcd\n"},
		{"redis without url", "cursor:\n  backend: redis\n"},
		{"postgres without url", "cursor:\n  backend: postgres\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tc.content), 0644))

			cfg, err := Load(configPath)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoadSources(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "sources.yaml")

	content := `
sources:
  - name: prod-logs
    kind: elastic
    options:
      elastic_host: search.internal
      elastic_index_pattern: "logs-*"
  - name: sensor-feed
    kind: mqtt
    options:
      host: broker.internal
      topic: "sensors/#"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	specs, err := LoadSources(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "prod-logs", specs[0].Name)
	assert.Equal(t, "elastic", specs[0].Kind)
	assert.Equal(t, "search.internal", specs[0].Options["elastic_host"])
	assert.Equal(t, "mqtt", specs[1].Kind)
}

func TestLoadSources_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty file", "sources: []\n"},
		{"missing name", "sources:\n  - kind: mqtt\n"},
		{"missing kind", "sources:\n  - name: a\n"},
		{"duplicate names", "sources:\n  - name: a\n    kind: mqtt\n  - name: a\n    kind: rss\n"},
		{"not yaml", "{{{{"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, "sources.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))

			_, err := LoadSources(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadSources_MissingFile(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
