package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/accrual"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvPostgresDSN, EnvClickHouseDSN, EnvLevelDBPath, EnvEventFeedURL, EnvMorphoAddress} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, accrual.ModeShareSeconds, cfg.Accrual.Mode)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout.Duration)

	em, err := cfg.Emission()
	require.NoError(t, err)
	assert.IsType(t, accrual.ShareSecondsEmission{}, em)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "points.toml", `
[accrual]
mode = "Fixed-Rate"
rate_per_second = "5000"

[engine]
snapshots = true
morpho_address = "0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb"

[storage]
backend = "leveldb"
leveldb_path = "/var/lib/points"

[server]
listen_addr = ":9000"
shutdown_timeout = "3s"

[report]
points_decimals = 18
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, accrual.ModeFixedRate, cfg.Accrual.Mode)
	assert.True(t, cfg.Engine.Snapshots)
	assert.Equal(t, "0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb", cfg.Morpho().Hex())
	assert.Equal(t, BackendLevelDB, cfg.Storage.Backend)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, int32(18), cfg.Report.PointsDecimals)

	em, err := cfg.Emission()
	require.NoError(t, err)
	fixed, ok := em.(accrual.FixedRateEmission)
	require.True(t, ok)
	assert.Equal(t, "5000", fixed.RatePerSecond.String())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "points.toml", `
[storage]
backend = "postgres"
postgres_dsn = "postgres://file"
`)
	t.Setenv(EnvPostgresDSN, "postgres://env")
	t.Setenv(EnvEventFeedURL, "ws://feed")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN)
	assert.Equal(t, "ws://feed", cfg.Source.FeedURL)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, ".env", "LEVELDB_PATH=/tmp/from-dotenv\n")
	path := writeFile(t, "points.toml", "[storage]\nbackend = \"leveldb\"\n")
	// godotenv sets variables for the whole process; restore afterwards.
	t.Cleanup(func() { os.Unsetenv(EnvLevelDBPath) })
	require.NoError(t, os.Unsetenv(EnvLevelDBPath))

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv", cfg.Storage.LevelDBPath)

	// a missing env file is not an error
	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "points.toml", "[accrual\nmode = ")
	_, err := Load(path, "")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "nope.toml"), "")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default", func(*Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Accrual.Mode = "linear" }, "unknown emission mode"},
		{"zero rate", func(c *Config) { c.Accrual.Mode = accrual.ModeFixedRate; c.Accrual.RatePerSecond = "0" }, "positive rate"},
		{"bad rate", func(c *Config) { c.Accrual.Mode = accrual.ModeFixedRate; c.Accrual.RatePerSecond = "1e18" }, "invalid rate_per_second"},
		{"bad address", func(c *Config) { c.Engine.MorphoAddress = "0x1234" }, "invalid morpho_address"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, "unknown backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "requires postgres_dsn"},
		{"leveldb without path", func(c *Config) { c.Storage.Backend = BackendLevelDB }, "requires leveldb_path"},
		{"negative decimals", func(c *Config) { c.Report.PointsDecimals = -1 }, "points_decimals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
