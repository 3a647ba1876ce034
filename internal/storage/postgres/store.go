package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

// Store is a PostgreSQL implementation of storage.Store and storage.SnapshotStore.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.Store         = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// Apply writes the change set in one transaction. Any duplicate tx id rolls
// back the entire set and returns ErrDuplicateKey.
func (s *Store) Apply(ctx context.Context, cs *storage.ChangeSet) (err error) {
	if err := cs.Validate(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe("apply", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range cs.Markets {
		if err := upsertMarket(ctx, tx, m); err != nil {
			return err
		}
	}
	for _, v := range cs.Vaults {
		if err := upsertVault(ctx, tx, v); err != nil {
			return err
		}
	}
	for _, p := range cs.MarketPositions {
		if err := upsertMarketPosition(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, p := range cs.VaultPositions {
		if err := upsertVaultPosition(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, t := range cs.MorphoTxs {
		if err := insertMorphoTx(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, t := range cs.MetaMorphoTxs {
		if err := insertMetaMorphoTx(ctx, tx, t); err != nil {
			return err
		}
	}
	if cs.Config != nil {
		if err := upsertConfig(ctx, tx, cs.Config); err != nil {
			return err
		}
	}
	if cs.Checkpoint != nil {
		if err := upsertCheckpoint(ctx, tx, cs.Checkpoint); err != nil {
			return err
		}
	}
	if err := writeSnapshots(ctx, tx, &cs.Snapshots); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func upsertConfig(ctx context.Context, db execer, cfg *domain.ProtocolConfig) error {
	_, err := db.Exec(ctx, `
		INSERT INTO protocol_config (id, fee_recipient, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET fee_recipient = EXCLUDED.fee_recipient,
		    updated_at = EXCLUDED.updated_at
	`, optionalAddr(cfg.FeeRecipient), cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert protocol config: %w", err)
	}
	return nil
}

func upsertCheckpoint(ctx context.Context, db execer, cp *storage.Checkpoint) error {
	_, err := db.Exec(ctx, `
		INSERT INTO checkpoint (id, block_number, tx_index, log_index, timestamp)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET block_number = EXCLUDED.block_number,
		    tx_index = EXCLUDED.tx_index,
		    log_index = EXCLUDED.log_index,
		    timestamp = EXCLUDED.timestamp
	`, cp.BlockNumber, cp.TxIndex, cp.LogIndex, cp.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// GetProtocolConfig returns the protocol config.
func (s *Store) GetProtocolConfig(ctx context.Context) (*domain.ProtocolConfig, error) {
	var (
		recipient *string
		cfg       domain.ProtocolConfig
	)
	err := s.pool.QueryRow(ctx, `
		SELECT fee_recipient, updated_at FROM protocol_config WHERE id = 1
	`).Scan(&recipient, &cfg.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get protocol config: %w", err)
	}
	cfg.FeeRecipient = parseOptionalAddr(recipient)
	return &cfg, nil
}

// GetCheckpoint returns the last applied event position.
func (s *Store) GetCheckpoint(ctx context.Context) (*storage.Checkpoint, error) {
	var cp storage.Checkpoint
	err := s.pool.QueryRow(ctx, `
		SELECT block_number, tx_index, log_index, timestamp FROM checkpoint WHERE id = 1
	`).Scan(&cp.BlockNumber, &cp.TxIndex, &cp.LogIndex, &cp.Timestamp)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &cp, nil
}

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(scanner) (*T, error)) ([]*T, error) {
	defer rows.Close()

	var result []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
