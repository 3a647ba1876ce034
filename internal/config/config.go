// Package config loads the points engine configuration from a TOML file,
// an optional .env file and the process environment, in that order of
// increasing precedence. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"morpho-points/internal/accrual"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLevelDB  = "leveldb"
)

// Environment variables that override file values.
const (
	EnvPostgresDSN   = "POSTGRES_DSN"
	EnvClickHouseDSN = "CLICKHOUSE_DSN"
	EnvLevelDBPath   = "LEVELDB_PATH"
	EnvEventFeedURL  = "EVENT_FEED_URL"
	EnvMorphoAddress = "MORPHO_ADDRESS"
)

// Config is the full runtime configuration.
type Config struct {
	Accrual AccrualConfig `toml:"accrual"`
	Engine  EngineConfig  `toml:"engine"`
	Storage StorageConfig `toml:"storage"`
	Source  SourceConfig  `toml:"source"`
	Server  ServerConfig  `toml:"server"`
	Report  ReportConfig  `toml:"report"`
}

// AccrualConfig selects the emission policy.
type AccrualConfig struct {
	Mode string `toml:"mode"`
	// RatePerSecond is a decimal integer, used by the fixed-rate mode only.
	RatePerSecond string `toml:"rate_per_second"`
}

type EngineConfig struct {
	Snapshots     bool   `toml:"snapshots"`
	MorphoAddress string `toml:"morpho_address"`
}

type StorageConfig struct {
	Backend       string `toml:"backend"`
	PostgresDSN   string `toml:"postgres_dsn"`
	ClickHouseDSN string `toml:"clickhouse_dsn"`
	LevelDBPath   string `toml:"leveldb_path"`
}

type SourceConfig struct {
	FeedURL string `toml:"feed_url"`
	File    string `toml:"file"`
}

type ServerConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type ReportConfig struct {
	PointsDecimals int32 `toml:"points_decimals"`
}

// Duration decodes TOML strings such as "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Accrual: AccrualConfig{Mode: accrual.ModeShareSeconds},
		Storage: StorageConfig{Backend: BackendMemory},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: Duration{15 * time.Second},
		},
	}
}

// Load reads path (optional), then the .env file at envFile (optional, a
// missing file is ignored) and the environment, and validates the result.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	cfg.ApplyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with non-empty environment variables.
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Storage.PostgresDSN, EnvPostgresDSN)
	override(&c.Storage.ClickHouseDSN, EnvClickHouseDSN)
	override(&c.Storage.LevelDBPath, EnvLevelDBPath)
	override(&c.Source.FeedURL, EnvEventFeedURL)
	override(&c.Engine.MorphoAddress, EnvMorphoAddress)
}

func (c *Config) normalize() {
	c.Accrual.Mode = strings.ToLower(strings.TrimSpace(c.Accrual.Mode))
	c.Accrual.RatePerSecond = strings.TrimSpace(c.Accrual.RatePerSecond)
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Engine.MorphoAddress = strings.TrimSpace(c.Engine.MorphoAddress)
	if c.Accrual.Mode == "" {
		c.Accrual.Mode = accrual.ModeShareSeconds
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := c.Emission(); err != nil {
		return fmt.Errorf("accrual: %w", err)
	}
	if a := c.Engine.MorphoAddress; a != "" && !common.IsHexAddress(a) {
		return fmt.Errorf("engine: invalid morpho_address %q", a)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage: postgres backend requires postgres_dsn or %s", EnvPostgresDSN)
		}
	case BackendLevelDB:
		if c.Storage.LevelDBPath == "" {
			return fmt.Errorf("storage: leveldb backend requires leveldb_path or %s", EnvLevelDBPath)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Server.ShutdownTimeout.Duration < 0 {
		return fmt.Errorf("server: negative shutdown_timeout")
	}
	if c.Report.PointsDecimals < 0 {
		return fmt.Errorf("report: negative points_decimals")
	}
	return nil
}

// Emission builds the configured accrual policy.
func (c *Config) Emission() (accrual.Emission, error) {
	var rate *big.Int
	if c.Accrual.RatePerSecond != "" {
		v, ok := new(big.Int).SetString(c.Accrual.RatePerSecond, 10)
		if !ok {
			return nil, fmt.Errorf("invalid rate_per_second %q", c.Accrual.RatePerSecond)
		}
		rate = v
	}
	return accrual.NewEmission(c.Accrual.Mode, rate)
}

// Morpho returns the configured lending contract address, zero when unset.
func (c *Config) Morpho() common.Address {
	return common.HexToAddress(c.Engine.MorphoAddress)
}
