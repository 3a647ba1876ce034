package app

import (
	flag "github.com/spf13/pflag"

	"morpho-points/internal/config"
)

// Flags are the command-line overrides shared by every command.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath string
	EnvFile    string
	Verbose    bool

	mode          string
	rate          string
	backend       string
	postgresDSN   string
	clickhouseDSN string
	levelDBPath   string
	morpho        string
	snapshots     bool
}

// BindFlags registers the shared flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "TOML config file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
	fs.BoolVar(&f.Verbose, "verbose", false, "enable verbose (debug) logging")

	fs.StringVar(&f.mode, "mode", "", "accrual mode: share-seconds or fixed-rate")
	fs.StringVar(&f.rate, "rate-per-second", "", "points emitted per second per pool in fixed-rate mode")
	fs.StringVar(&f.backend, "backend", "", "storage backend: memory, postgres or leveldb")
	fs.StringVar(&f.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string (or set POSTGRES_DSN env var)")
	fs.StringVar(&f.clickhouseDSN, "clickhouse-dsn", "", "ClickHouse DSN for the snapshot sink (or set CLICKHOUSE_DSN env var)")
	fs.StringVar(&f.levelDBPath, "leveldb-path", "", "LevelDB directory (or set LEVELDB_PATH env var)")
	fs.StringVar(&f.morpho, "morpho-address", "", "Morpho contract address (or set MORPHO_ADDRESS env var)")
	fs.BoolVar(&f.snapshots, "snapshots", false, "record point-in-time snapshots")
	return f
}

// Load reads the config file and environment, then applies the flags that
// were set explicitly, and validates the result.
func (f *Flags) Load() (config.Config, error) {
	cfg, err := config.Load(f.ConfigPath, f.EnvFile)
	if err != nil {
		return config.Config{}, err
	}
	f.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// Apply overrides cfg with every flag changed on the command line.
func (f *Flags) Apply(cfg *config.Config) {
	set := func(name string, dst *string, v string) {
		if f.fs.Changed(name) {
			*dst = v
		}
	}
	set("mode", &cfg.Accrual.Mode, f.mode)
	set("rate-per-second", &cfg.Accrual.RatePerSecond, f.rate)
	set("backend", &cfg.Storage.Backend, f.backend)
	set("postgres-dsn", &cfg.Storage.PostgresDSN, f.postgresDSN)
	set("clickhouse-dsn", &cfg.Storage.ClickHouseDSN, f.clickhouseDSN)
	set("leveldb-path", &cfg.Storage.LevelDBPath, f.levelDBPath)
	set("morpho-address", &cfg.Engine.MorphoAddress, f.morpho)
	if f.fs.Changed("snapshots") {
		cfg.Engine.Snapshots = f.snapshots
	}
}
