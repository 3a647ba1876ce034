// Package app wires the configured storage backend and engine for the
// command-line entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"morpho-points/internal/config"
	"morpho-points/internal/engine"
	"morpho-points/internal/retry"
	"morpho-points/internal/storage"
	chstore "morpho-points/internal/storage/clickhouse"
	"morpho-points/internal/storage/leveldb"
	"morpho-points/internal/storage/memory"
	"morpho-points/internal/storage/migrations"
	pgstore "morpho-points/internal/storage/postgres"
)

// Backend is an opened state store plus the optional snapshot sink.
type Backend struct {
	Name  string
	Store storage.Store
	// Sink receives snapshots when a ClickHouse DSN is configured; nil keeps
	// snapshots in the state store.
	Sink storage.SnapshotStore

	closers []func()
}

// Close releases every connection in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Open connects to the configured backend, applying migrations where the
// backend has them. Network backends are retried with backoff.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Backend, error) {
	b := &Backend{Name: cfg.Storage.Backend}
	rc := retry.DefaultConfig()
	rc.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("backend connect failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		b.Store = memory.NewStore()

	case config.BackendPostgres:
		var pool *pgstore.Pool
		err := retry.Do(ctx, rc, func() error {
			var err error
			pool, err = pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		b.Store = pgstore.NewStore(pool)
		log.Info("postgres connected", "migrations_applied", applied)

	case config.BackendLevelDB:
		db, err := leveldb.Open(cfg.Storage.LevelDBPath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			if err := db.Close(); err != nil {
				log.Error("close leveldb", "error", err)
			}
		})
		b.Store = db
		log.Info("leveldb opened", "path", cfg.Storage.LevelDBPath)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Storage.ClickHouseDSN != "" {
		var conn *chstore.Conn
		err := retry.Do(ctx, rc, func() error {
			var err error
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
			return err
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		b.closers = append(b.closers, func() {
			if err := conn.Close(); err != nil {
				log.Error("close clickhouse", "error", err)
			}
		})
		b.Sink = chstore.NewSnapshotStore(conn)
		log.Info("clickhouse snapshot sink connected")
	}

	return b, nil
}

// NewEngine builds the engine for cfg over the backend.
func NewEngine(cfg config.Config, b *Backend, log *slog.Logger) (*engine.Engine, error) {
	em, err := cfg.Emission()
	if err != nil {
		return nil, err
	}
	return engine.New(b.Store, engine.Options{
		Emission:      em,
		MorphoAddress: cfg.Morpho(),
		Snapshots:     cfg.Engine.Snapshots,
		SnapshotSink:  b.Sink,
		Logger:        log,
	}), nil
}
