package config

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

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Privacy.Enabled)
	assert.Equal(t, []string{"all"}, cfg.Privacy.Detectors)
	assert.Equal(t, "", cfg.Privacy.DefaultScope)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
privacy:
  detectors: [credit_card, email]
  default_scope: chat
  custom_classes:
    - name: national_id
      pattern: '\b\d{11}\b'
      placeholder_tag: NATIONAL_ID_MASK
logging:
  level: debug
  format: console
upstream:
  model: test-model
  timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"credit_card", "email"}, cfg.Privacy.Detectors)
	assert.Equal(t, "chat", cfg.Privacy.DefaultScope)
	require.Len(t, cfg.Privacy.CustomClasses, 1)
	assert.Equal(t, "national_id", cfg.Privacy.CustomClasses[0].Name)
	assert.Equal(t, "NATIONAL_ID_MASK", cfg.Privacy.CustomClasses[0].PlaceholderTag)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "test-model", cfg.Upstream.Model)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	// untouched sections keep their defaults
	assert.Equal(t, 2, cfg.Upstream.MaxRetries)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SENTINEL_UPSTREAM_API_KEY", "sk-test")
	t.Setenv("SENTINEL_SERVER_PORT", "7070")

	cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Upstream.APIKey)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad level", "logging:\n  level: verbose\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"bad scope", "privacy:\n  default_scope: 'a b'\n"},
		{"incomplete class", "privacy:\n  custom_classes:\n    - name: x\n"},
		{"no workers", "batch:\n  worker_count: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestWatchReloadsValidChanges(t *testing.T) {
	path := writeConfig(t, "privacy:\n  default_scope: one\n")
	_, err := Load(path)
	require.NoError(t, err)

	changes := make(chan *Config, 8)
	require.NoError(t, Watch(func(cfg *Config) {
		select {
		case changes <- cfg:
		default:
		}
	}, nil))

	require.NoError(t, os.WriteFile(path, []byte("privacy:\n  default_scope: two\n"), 0o600))

	select {
	case cfg := <-changes:
		assert.Equal(t, "two", cfg.Privacy.DefaultScope)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration change was not delivered")
	}
}

func TestWatchWithoutFile(t *testing.T) {
	mu.Lock()
	saved := current
	current = nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		current = saved
		mu.Unlock()
	})

	assert.Error(t, Watch(func(*Config) {}, nil))
}
