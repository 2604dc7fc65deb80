package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGERSYNC_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.Database.Path, "ledger.db")
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 3*time.Second, cfg.Sync.PushDebounce)
	assert.Equal(t, 12*time.Hour, cfg.Sync.ReconcileInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[database]
path = "/tmp/custom.db"

[server]
base_url = "https://sync.example.com"
auth_token = "file-token"

[sync]
interval = "5m"
push_debounce = "10s"

[log]
level = "debug"
file = "/tmp/ledgersync.log"
max_backups = 2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("LEDGERSYNC_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	assert.Equal(t, "https://sync.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 10*time.Second, cfg.Sync.PushDebounce)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/ledgersync.log", cfg.Log.File)
	assert.Equal(t, 2, cfg.Log.MaxBackups)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[server]`+"\n"+`base_url = "https://a.example.com"`+"\n"), 0o644))
	t.Setenv("LEDGERSYNC_CONFIG", path)
	t.Setenv("LEDGERSYNC_SERVER_BASE_URL", "https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://b.example.com", cfg.Server.BaseURL)
}

func TestTokenPrefersEnvVar(t *testing.T) {
	s := ServerConfig{AuthToken: "literal", AuthTokenEnv: "LEDGERSYNC_TEST_TOKEN"}

	t.Setenv("LEDGERSYNC_TEST_TOKEN", "")
	assert.Equal(t, "literal", s.Token())

	t.Setenv("LEDGERSYNC_TEST_TOKEN", "from-env")
	assert.Equal(t, "from-env", s.Token())
}
