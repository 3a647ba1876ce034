// Package engine turns decoded protocol events into signed transaction records
// and runs each record through the accrual pipeline. One event is one unit of
// work: its state changes are persisted atomically or not at all.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/accrual"
	"morpho-points/internal/domain"
	"morpho-points/internal/logger"
	"morpho-points/internal/observability"
	"morpho-points/internal/storage"
)

// Options configures an Engine.
type Options struct {
	// Emission is the accrual policy applied to every pool. Nil means share-seconds.
	Emission accrual.Emission

	// MorphoAddress is the lending contract. Vault share transfers to or from it
	// are skipped; collateral movements are mirrored from market events instead.
	MorphoAddress common.Address

	// Snapshots enables point-in-time snapshots on every transaction.
	Snapshots bool

	// SnapshotSink receives snapshots instead of the state store when set.
	SnapshotSink storage.SnapshotStore

	Logger *slog.Logger

	// Observer is notified before each pipeline stage.
	Observer StageObserver
}

// Engine applies events to a store. Not safe for concurrent use: events must
// be processed one at a time in chain order.
type Engine struct {
	store     storage.Store
	acc       *accrual.Accumulator
	morpho    common.Address
	snapshots bool
	sink      storage.SnapshotStore
	log       *slog.Logger
	observer  StageObserver
}

// Result lists the records one event produced.
type Result struct {
	Kind          domain.EventKind
	MorphoTxs     []*domain.MorphoTx
	MetaMorphoTxs []*domain.MetaMorphoTx
	Snapshots     int
}

// New creates an engine over store.
func New(store storage.Store, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		store:     store,
		acc:       accrual.New(opts.Emission),
		morpho:    opts.MorphoAddress,
		snapshots: opts.Snapshots,
		sink:      opts.SnapshotSink,
		log:       log,
		observer:  opts.Observer,
	}
}

// Accumulator returns the accrual policy holder, for read-side projections.
func (e *Engine) Accumulator() *accrual.Accumulator {
	return e.acc
}

// Process normalizes ev, runs its transactions through the pipeline and
// persists the result together with a checkpoint at ev.
func (e *Engine) Process(ctx context.Context, ev domain.Event) (*Result, error) {
	start := time.Now()
	kind := ev.Kind()
	meta := ev.Meta()

	ws := newWorkingSet(ctx, e.store)
	if err := e.dispatch(ws, ev); err != nil {
		e.recordFailure(kind, err)
		return nil, fmt.Errorf("%s at block %d tx %d log %d: %w",
			kind, meta.BlockNumber, meta.TxIndex, meta.LogIndex, err)
	}

	cs := ws.changeSet()
	cs.Checkpoint = &storage.Checkpoint{
		BlockNumber: meta.BlockNumber,
		TxIndex:     meta.TxIndex,
		LogIndex:    meta.LogIndex,
		Timestamp:   meta.BlockTimestamp,
	}
	snapshots := cs.Snapshots
	if e.sink != nil {
		cs.Snapshots = storage.SnapshotSet{}
		// The sink is written before the checkpoint moves. Upserts are
		// idempotent, so a failed Apply replays the same rows on restart.
		if snapshots.Len() > 0 {
			if err := e.sink.WriteSnapshots(ctx, &snapshots); err != nil {
				e.recordFailure(kind, err)
				return nil, fmt.Errorf("write snapshots for %s at block %d: %w", kind, meta.BlockNumber, err)
			}
		}
	}

	if err := e.store.Apply(ctx, cs); err != nil {
		e.recordFailure(kind, err)
		return nil, fmt.Errorf("persist %s at block %d log %d: %w", kind, meta.BlockNumber, meta.LogIndex, err)
	}

	for _, tx := range cs.MorphoTxs {
		observability.RecordTransactions("morpho", tx.Type.String(), 1)
		e.log.Debug("morpho tx", "id", tx.ID, "type", tx.Type, "market", tx.Market.Hex(),
			"user", tx.User.Hex(), "shares", tx.Shares, "assets", tx.Assets, "timestamp", tx.Timestamp)
	}
	for _, tx := range cs.MetaMorphoTxs {
		observability.RecordTransactions("metamorpho", tx.Type.String(), 1)
		e.log.Debug("metamorpho tx", "id", tx.ID, "type", tx.Type, "vault", tx.Vault.Hex(),
			"user", tx.User.Hex(), "shares", tx.Shares, "timestamp", tx.Timestamp)
	}
	observability.RecordSnapshots(snapshots.Len())
	observability.RecordEventProcessed(string(kind), time.Since(start).Seconds())
	observability.UpdateProgress(meta.BlockNumber, meta.BlockTimestamp)

	return &Result{
		Kind:          kind,
		MorphoTxs:     cs.MorphoTxs,
		MetaMorphoTxs: cs.MetaMorphoTxs,
		Snapshots:     snapshots.Len(),
	}, nil
}

func (e *Engine) recordFailure(kind domain.EventKind, err error) {
	if IsFatal(err) {
		observability.RecordFatalError(string(kind))
		return
	}
	observability.RecordEventRejected(string(kind), "negative_balance")
}

// dispatch routes an event to its handler. The event set is closed; a type
// outside it is a programming error.
func (e *Engine) dispatch(ws *workingSet, ev domain.Event) error {
	switch ev := ev.(type) {
	case domain.CreateMarket:
		return e.createMarket(ws, ev)
	case domain.Supply:
		return e.supply(ws, ev)
	case domain.Withdraw:
		return e.withdraw(ws, ev)
	case domain.Borrow:
		return e.borrow(ws, ev)
	case domain.Repay:
		return e.repay(ws, ev)
	case domain.SupplyCollateral:
		return e.supplyCollateral(ws, ev)
	case domain.WithdrawCollateral:
		return e.withdrawCollateral(ws, ev)
	case domain.Liquidate:
		return e.liquidate(ws, ev)
	case domain.AccrueInterest:
		return e.accrueInterest(ws, ev)
	case domain.SetFeeRecipient:
		return ws.setFeeRecipient(ev.FeeRecipient, ev.BlockTimestamp)
	case domain.CreateVault:
		return e.createVault(ws, ev)
	case domain.VaultDeposit:
		return e.vaultDeposit(ws, ev)
	case domain.VaultWithdraw:
		return e.vaultWithdraw(ws, ev)
	case domain.VaultTransfer:
		return e.vaultTransfer(ws, ev)
	case domain.VaultAccrueInterest:
		return e.vaultAccrueInterest(ws, ev)
	case domain.VaultSetFeeRecipient:
		return e.vaultSetFeeRecipient(ws, ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}
