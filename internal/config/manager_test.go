package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  admin_user_ids: [10, 11]
  poll_timeout: 15s
logging:
  level: debug
  console: true
  file:
    enabled: false
storage:
  path: ./bot.db
broadcast:
  rate_per_sec: 5
welcome:
  activation_param: activate_protocol
  short_delay: 1s
  long_delay: 10s
digest:
  enabled: true
  schedule: "0 9 * * *"
`)

	cfg, err := NewManager(path).Load()
	require.NoError(t, err)
	require.Equal(t, []int64{10, 11}, cfg.Telegram.AdminUserIDs)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "./bot.db", cfg.Storage.Path)
	require.Equal(t, 5, cfg.Broadcast.RatePerSec)
	require.Equal(t, "activate_protocol", cfg.Welcome.ActivationParam)
	require.True(t, cfg.Digest.Enabled)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  admin_user_ids: [10]
  admin_userids: [11]
logging:
  level: info
storage:
  path: ./bot.db
`)

	_, err := NewManager(path).Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestGetReturnsCommitted(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging: {level: info, console: true}
storage: {path: ./bot.db}
telegram: {admin_user_ids: []}
`)

	m := NewManager(path)
	require.Nil(t, m.Get())
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())
}

func TestValidateDurations(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.ValidateDurations())

	cfg.Welcome.LongDelay = "10s"
	require.NoError(t, cfg.ValidateDurations())

	cfg.Storage.BusyTimeout = "soon"
	err := cfg.ValidateDurations()
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.busy_timeout")
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", "1500ms")
	require.NoError(t, err)
	require.Equal(t, "1.5s", d.String())

	_, err = ParseDurationField("x", "soon")
	require.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), int64(d))
}
