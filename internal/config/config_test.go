package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, "member:\n  id: m1\n"))
	require.NoError(t, err)

	assert.Equal(t, "m1", cfg.Member.ID)
	assert.Equal(t, 1408, cfg.Gateway.Port)
	assert.Equal(t, 10*time.Second, cfg.Gateway.HeartbeatInterval)
	assert.Equal(t, 257, cfg.Partition.Count)
	assert.Equal(t, 5*time.Second, cfg.Processing.LockTimeout)
	assert.Equal(t, 5, cfg.Processing.MaxRetries)
	assert.Equal(t, 8, cfg.Processing.Parallelism)
	assert.Equal(t, time.Second, cfg.Cache.ExpirySweepInterval)
	assert.Equal(t, 9090, cfg.Management.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Gossip.Enabled)
	assert.Empty(t, cfg.Stores)
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv(config.EnvName("member.id"), "from-env")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Member.ID)
	assert.Equal(t, 1408, cfg.Gateway.Port)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
member:
  id: m2
gateway:
  port: 2000
  heartbeat_interval: 3s
partition:
  count: 31
stores:
  - pattern: "orders-*"
    type: postgres
  - pattern: "*"
    type: memory
gossip:
  enabled: true
  seed_nodes: ["10.0.0.1:7946", "10.0.0.2:7946"]
`)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Gateway.Port)
	assert.Equal(t, 3*time.Second, cfg.Gateway.HeartbeatInterval)
	assert.Equal(t, 31, cfg.Partition.Count)
	require.Len(t, cfg.Stores, 2)
	assert.Equal(t, config.StorePostgres, cfg.Stores[0].Type)
	assert.Equal(t, []string{"10.0.0.1:7946", "10.0.0.2:7946"}, cfg.Gossip.SeedNodes)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "member:\n  id: m1\ngateway:\n  port: 2000\n")
	t.Setenv("GRID_GATEWAY_PORT", "3000")
	t.Setenv("GRID_PROCESSING_LOCK_TIMEOUT", "250ms")
	t.Setenv("GRID_GOSSIP_ENABLED", "true")
	t.Setenv("GRID_GOSSIP_SEED_NODES", "a:1, b:2")
	t.Setenv("GRID_LOGGING_LEVEL", "debug")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Gateway.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Processing.LockTimeout)
	assert.True(t, cfg.Gossip.Enabled)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Gossip.SeedNodes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "m1", cfg.Member.ID)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "member: [", "failed to parse"},
		{"bad port", "gateway:\n  port: 70000\n", "gateway.port"},
		{"store without pattern", "stores:\n  - type: memory\n", "pattern is required"},
		{"bad store pattern", "stores:\n  - pattern: \"[\"\n    type: memory\n", "malformed"},
		{"unknown store", "stores:\n  - pattern: \"*\"\n    type: mongo\n", "type must be"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
		{"management port clash", "management:\n  enabled: true\n  port: 1408\n", "must differ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "GRID_GATEWAY_REQUEST_TIMEOUT", config.EnvName("gateway.request_timeout"))
}
