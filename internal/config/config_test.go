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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Care, cfg.Care)
	assert.Equal(t, 2*time.Hour, cfg.Care.GraceWindow)
	assert.Equal(t, 60*time.Second, cfg.Care.SweepInterval)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: "file::memory:"
care:
  timezone: UTC
  grace_window: 30m
  invite_ttl: 48h
`)
	t.Setenv("CARE_GRACE_WINDOW", "90m")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 90*time.Minute, cfg.Care.GraceWindow)
	assert.Equal(t, 48*time.Hour, cfg.Care.InviteTTL)
	assert.Equal(t, time.UTC, cfg.Care.Location())
	// 文件里没写的键保留缺省值
	assert.Equal(t, 5000, cfg.Care.FanoutSyncLimit)
}

func TestLoadRejectsShortInviteTTL(t *testing.T) {
	path := writeConfig(t, "care:\n  invite_ttl: 1h\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateDriverAndBroker(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Broker.Kind = "nats"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
