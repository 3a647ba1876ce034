// Package replay drives a source of decoded events through the engine,
// resuming after the stored checkpoint.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"morpho-points/internal/domain"
	"morpho-points/internal/engine"
	"morpho-points/internal/ingestion"
	"morpho-points/internal/logger"
	"morpho-points/internal/storage"
)

// Processor applies one event. *engine.Engine implements it.
type Processor interface {
	Process(ctx context.Context, ev domain.Event) (*engine.Result, error)
}

// Options configures a Runner.
type Options struct {
	Logger *slog.Logger
	// ProgressEvery logs progress after this many applied events. 0 disables.
	ProgressEvery int
}

// Stats summarizes a run.
type Stats struct {
	Read          int
	Skipped       int // at or before the checkpoint
	Applied       int
	Rejected      int // balance errors
	MorphoTxs     int
	MetaMorphoTxs int
	Snapshots     int
	Last          *domain.EventMeta // last applied or rejected event
	Duration      time.Duration
}

// Runner reads events from a source and processes them in order.
type Runner struct {
	src         ingestion.Source
	proc        Processor
	checkpoints storage.CheckpointStore
	log         *slog.Logger
	every       int
}

// NewRunner creates a runner. checkpoints may be nil to process every event.
func NewRunner(src ingestion.Source, proc Processor, checkpoints storage.CheckpointStore, opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{
		src:         src,
		proc:        proc,
		checkpoints: checkpoints,
		log:         log,
		every:       opts.ProgressEvery,
	}
}

// Checkpoint loads the stored checkpoint, or nil if nothing was applied yet.
func Checkpoint(ctx context.Context, store storage.CheckpointStore) (*storage.Checkpoint, error) {
	if store == nil {
		return nil, nil
	}
	cp, err := store.GetCheckpoint(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// Run processes events until the source is exhausted, ctx is done, or a
// fatal error occurs. Events the checkpoint covers are skipped. Balance
// errors reject the single event and the run continues; anything else is
// returned, and a restart resumes from the last committed event.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}
	defer func() { stats.Duration = time.Since(start) }()

	cp, err := Checkpoint(ctx, r.checkpoints)
	if err != nil {
		return stats, err
	}
	if cp != nil {
		r.log.Info("resuming after checkpoint", "block", cp.BlockNumber, "tx_index", cp.TxIndex, "log_index", cp.LogIndex)
	}

	var guard ingestion.OrderGuard
	for {
		ev, err := r.src.Next(ctx)
		if err == io.EOF {
			r.log.Info("source exhausted", "read", stats.Read, "applied", stats.Applied,
				"skipped", stats.Skipped, "rejected", stats.Rejected)
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read event: %w", err)
		}
		stats.Read++

		meta := ev.Meta()
		if cp.Covers(meta.BlockNumber, meta.TxIndex, meta.LogIndex) {
			stats.Skipped++
			continue
		}
		if err := guard.Check(ev); err != nil {
			r.log.Error("event out of order", "error", err)
			return stats, err
		}
		stats.Last = guard.Last()

		res, err := r.proc.Process(ctx, ev)
		if err != nil {
			if engine.IsFatal(err) {
				r.log.Error("fatal event", "kind", ev.Kind(), "block", meta.BlockNumber, "error", err)
				return stats, err
			}
			stats.Rejected++
			var be *engine.BalanceError
			if errors.As(err, &be) {
				r.log.Warn("event rejected", "kind", ev.Kind(), "block", meta.BlockNumber,
					"tx_hash", meta.TxHash.Hex(), "log_index", meta.LogIndex,
					"entity", be.Entity, "field", be.Field, "balance", be.Balance, "delta", be.Delta)
			} else {
				r.log.Warn("event rejected", "kind", ev.Kind(), "block", meta.BlockNumber, "error", err)
			}
			continue
		}

		stats.Applied++
		stats.MorphoTxs += len(res.MorphoTxs)
		stats.MetaMorphoTxs += len(res.MetaMorphoTxs)
		stats.Snapshots += res.Snapshots
		if r.every > 0 && stats.Applied%r.every == 0 {
			r.log.Info("replay progress", "applied", stats.Applied, "rejected", stats.Rejected,
				"block", meta.BlockNumber, "timestamp", meta.BlockTimestamp)
		}
	}
}
