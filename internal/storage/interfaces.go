package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
)

// MarketStore provides read access to markets.
type MarketStore interface {
	// GetMarket retrieves a market by id. Returns ErrNotFound if not exists.
	GetMarket(ctx context.Context, id common.Hash) (*domain.Market, error)

	// ListMarkets returns all markets ordered by id.
	ListMarkets(ctx context.Context) ([]*domain.Market, error)
}

// VaultStore provides read access to vaults.
type VaultStore interface {
	// GetVault retrieves a vault by address. Returns ErrNotFound if not exists.
	GetVault(ctx context.Context, id common.Address) (*domain.Vault, error)

	// ListVaults returns all vaults ordered by address.
	ListVaults(ctx context.Context) ([]*domain.Vault, error)
}

// MarketPositionStore provides read access to market positions.
type MarketPositionStore interface {
	// GetMarketPosition retrieves a position by id. Returns ErrNotFound if not exists.
	GetMarketPosition(ctx context.Context, id string) (*domain.MarketPosition, error)

	// ListMarketPositionsByMarket returns a market's positions ordered by id.
	ListMarketPositionsByMarket(ctx context.Context, market common.Hash) ([]*domain.MarketPosition, error)

	// ListMarketPositionsByUser returns a user's positions ordered by id.
	ListMarketPositionsByUser(ctx context.Context, user common.Address) ([]*domain.MarketPosition, error)
}

// VaultPositionStore provides read access to vault positions.
type VaultPositionStore interface {
	// GetVaultPosition retrieves a position by id. Returns ErrNotFound if not exists.
	GetVaultPosition(ctx context.Context, id string) (*domain.VaultPosition, error)

	// ListVaultPositionsByVault returns a vault's positions ordered by id.
	ListVaultPositionsByVault(ctx context.Context, vault common.Address) ([]*domain.VaultPosition, error)

	// ListVaultPositionsByUser returns a user's vault positions ordered by id.
	ListVaultPositionsByUser(ctx context.Context, user common.Address) ([]*domain.VaultPosition, error)
}

// TxStore provides read access to the append-only transaction records.
type TxStore interface {
	// GetMorphoTx retrieves a market transaction by id. Returns ErrNotFound if not exists.
	GetMorphoTx(ctx context.Context, id string) (*domain.MorphoTx, error)

	// ListMorphoTxsByMarket returns a market's transactions in chain order.
	ListMorphoTxsByMarket(ctx context.Context, market common.Hash) ([]*domain.MorphoTx, error)

	// GetMetaMorphoTx retrieves a vault transaction by id. Returns ErrNotFound if not exists.
	GetMetaMorphoTx(ctx context.Context, id string) (*domain.MetaMorphoTx, error)

	// ListMetaMorphoTxsByVault returns a vault's transactions in chain order.
	ListMetaMorphoTxsByVault(ctx context.Context, vault common.Address) ([]*domain.MetaMorphoTx, error)
}

// ConfigStore provides access to the single protocol configuration row.
type ConfigStore interface {
	// GetProtocolConfig returns the protocol config. Returns ErrNotFound if never written.
	GetProtocolConfig(ctx context.Context) (*domain.ProtocolConfig, error)
}

// CheckpointStore provides access to the replay checkpoint.
type CheckpointStore interface {
	// GetCheckpoint returns the last applied event position.
	// Returns ErrNotFound if nothing has been applied yet.
	GetCheckpoint(ctx context.Context) (*Checkpoint, error)
}

// StateReader groups every read accessor of the reward state.
type StateReader interface {
	MarketStore
	VaultStore
	MarketPositionStore
	VaultPositionStore
	TxStore
	ConfigStore
	CheckpointStore
}

// Store is a reward state backend.
type Store interface {
	StateReader

	// Apply persists a change set atomically: either every entry is written or none.
	// Returns ErrDuplicateKey if any transaction record id already exists.
	Apply(ctx context.Context, cs *ChangeSet) error
}

// SnapshotStore persists point-in-time snapshots.
type SnapshotStore interface {
	// WriteSnapshots upserts snapshots by id. A rewrite with a nil PreviousSnapshot
	// keeps the link already stored.
	WriteSnapshots(ctx context.Context, set *SnapshotSet) error

	// GetMarketSnapshot retrieves a market snapshot by id. Returns ErrNotFound if not exists.
	GetMarketSnapshot(ctx context.Context, id string) (*domain.MarketSnapshot, error)

	// GetMarketPositionSnapshot retrieves a market position snapshot by id.
	GetMarketPositionSnapshot(ctx context.Context, id string) (*domain.MarketPositionSnapshot, error)

	// GetVaultSnapshot retrieves a vault snapshot by id.
	GetVaultSnapshot(ctx context.Context, id string) (*domain.VaultSnapshot, error)

	// GetVaultPositionSnapshot retrieves a vault position snapshot by id.
	GetVaultPositionSnapshot(ctx context.Context, id string) (*domain.VaultPositionSnapshot, error)
}
