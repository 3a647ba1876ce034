package app

import (
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/accrual"
	"morpho-points/internal/config"
)

func TestFlags_OnlyChangedOverride(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--mode", "fixed-rate", "--snapshots", "--leveldb-path", "/data"}))

	cfg := config.Default()
	cfg.Storage.PostgresDSN = "postgres://from-file"
	f.Apply(&cfg)

	assert.Equal(t, accrual.ModeFixedRate, cfg.Accrual.Mode)
	assert.True(t, cfg.Engine.Snapshots)
	assert.Equal(t, "/data", cfg.Storage.LevelDBPath)
	assert.Equal(t, "postgres://from-file", cfg.Storage.PostgresDSN, "unset flag keeps the file value")
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
}

func TestFlags_LoadValidates(t *testing.T) {
	t.Setenv(config.EnvLevelDBPath, "")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--env-file", "", "--backend", "leveldb"}))

	_, err := f.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leveldb_path")
}
