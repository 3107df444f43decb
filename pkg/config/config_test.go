package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/config"
)

func missingDotenv(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(missingDotenv(t))
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, ":4000", cfg.Addr())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.Lobby.TTL)
	assert.Equal(t, time.Hour, cfg.Lobby.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.Lobby.DisposeDelay)
	assert.Equal(t, 2*time.Second, cfg.Match.RespawnDelay)
	assert.Equal(t, 30*time.Second, cfg.Match.EvictDelay)
	assert.Equal(t, "random", cfg.Match.WinnerPolicy)
	assert.Equal(t, config.MapSourceEmbedded, cfg.Maps.Source)
	assert.Equal(t, config.StoreSQLite, cfg.Escrow.Store)
	assert.Equal(t, "arena.db", cfg.Escrow.SQLitePath)
	assert.Equal(t, "localhost:6379", cfg.Escrow.RedisAddress)
	assert.Equal(t, int64(84532), cfg.Chain.ID)
	assert.Equal(t, "Arena MatchEscrow", cfg.Chain.DomainName)
	assert.Equal(t, "1", cfg.Chain.DomainVersion)
	assert.Empty(t, cfg.Chain.ContractAddress)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, "json", cfg.Telemetry.LogFormat)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("ARENA_PORT", "8080")
	t.Setenv("ARENA_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LOBBY_TTL", "30m")
	t.Setenv("MATCH_TIMEOUT_WINNER_POLICY", "top_score")
	t.Setenv("ESCROW_STORE", "redis")
	t.Setenv("REDIS_ADDRESS", "cache:6379")
	t.Setenv("MATCH_ESCROW_ADDRESS", "0xd9145CCE52D386f254917e481eB44e9943F39138")

	cfg, err := config.Load(missingDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Minute, cfg.Lobby.TTL)
	assert.Equal(t, "top_score", cfg.Match.WinnerPolicy)
	assert.Equal(t, config.StoreRedis, cfg.Escrow.Store)
	assert.Equal(t, "cache:6379", cfg.Escrow.RedisAddress)
}

func TestLoad_Dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ARENA_PORT=5000\nCHAIN_ID=8453\n"), 0o600))
	t.Setenv("CHAIN_ID", "1")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Unsetenv("ARENA_PORT") })
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, int64(1), cfg.Chain.ID, "environment wins over dotenv")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "port", env: map[string]string{"ARENA_PORT": "0"}},
		{name: "port not a number", env: map[string]string{"ARENA_PORT": "http"}},
		{name: "duration", env: map[string]string{"MATCH_EVICT_DELAY": "0s"}},
		{name: "policy", env: map[string]string{"MATCH_TIMEOUT_WINNER_POLICY": "coin"}},
		{name: "map source", env: map[string]string{"MAP_SOURCE": "ftp"}},
		{name: "s3 without bucket", env: map[string]string{"MAP_SOURCE": "s3"}},
		{name: "store", env: map[string]string{"ESCROW_STORE": "mongo"}},
		{name: "postgres without dsn", env: map[string]string{"ESCROW_STORE": "postgres"}},
		{name: "contract", env: map[string]string{"MATCH_ESCROW_ADDRESS": "0x1234"}},
		{name: "zero contract", env: map[string]string{"MATCH_ESCROW_ADDRESS": "0x0000000000000000000000000000000000000000"}},
		{name: "chain id", env: map[string]string{"CHAIN_ID": "-1"}},
		{name: "log level", env: map[string]string{"OTEL_LOG_LEVEL": "chatty"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(missingDotenv(t))
			require.Error(t, err)
		})
	}
}
