package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, 1, cfg.SchemaVersion)
	assert.Equal(t, 4, cfg.MaxConnPerUser)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
}

func TestLoadServerConfig_EnvVarsOverrideDefaults(t *testing.T) {
	t.Setenv("DRIFTSYNC_LISTEN_ADDRESS", ":9090")
	t.Setenv("DRIFTSYNC_MAX_CONN_PER_USER", "10")

	cfg, err := LoadServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddress)
	assert.Equal(t, 10, cfg.MaxConnPerUser)
}

func TestLoadServerConfig_YAMLFileIsRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_address: \":7070\"\njwt_secret: \"from-file\"\n"), 0o644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddress)
	assert.Equal(t, "from-file", cfg.JWTSecret)
}

func TestLoadClientConfig_Defaults(t *testing.T) {
	cfg, err := LoadClientConfig("")
	require.NoError(t, err)
	assert.Equal(t, "driftsync-client.db", cfg.DatabasePath)
	assert.Equal(t, 30000, cfg.SyncIntervalMS)
	assert.Equal(t, "last_write_wins", cfg.ConflictPolicy)
	assert.True(t, cfg.RealtimeEnabled)
}

func TestLoadClientConfig_EnvVarsOverrideDefaults(t *testing.T) {
	t.Setenv("DRIFTSYNC_CONFLICT_POLICY", "client_wins")
	t.Setenv("DRIFTSYNC_REALTIME_ENABLED", "false")

	cfg, err := LoadClientConfig("")
	require.NoError(t, err)
	assert.Equal(t, "client_wins", cfg.ConflictPolicy)
	assert.False(t, cfg.RealtimeEnabled)
}
