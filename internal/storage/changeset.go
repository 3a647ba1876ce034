package storage

import (
	"fmt"

	"morpho-points/internal/domain"
)

// ChangeSet is everything one upstream event changed. Entities are upserts,
// transaction records are inserts.
type ChangeSet struct {
	Markets         []*domain.Market
	Vaults          []*domain.Vault
	MarketPositions []*domain.MarketPosition
	VaultPositions  []*domain.VaultPosition

	MorphoTxs     []*domain.MorphoTx
	MetaMorphoTxs []*domain.MetaMorphoTx

	Config     *domain.ProtocolConfig // nil = unchanged
	Checkpoint *Checkpoint            // nil = unchanged

	Snapshots SnapshotSet
}

// SnapshotSet groups snapshots written together.
type SnapshotSet struct {
	Markets         []*domain.MarketSnapshot
	MarketPositions []*domain.MarketPositionSnapshot
	Vaults          []*domain.VaultSnapshot
	VaultPositions  []*domain.VaultPositionSnapshot
}

// Len returns the number of snapshots in the set.
func (s *SnapshotSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Markets) + len(s.MarketPositions) + len(s.Vaults) + len(s.VaultPositions)
}

// IsEmpty reports whether applying the change set would write nothing.
func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.Markets) == 0 && len(cs.Vaults) == 0 &&
		len(cs.MarketPositions) == 0 && len(cs.VaultPositions) == 0 &&
		len(cs.MorphoTxs) == 0 && len(cs.MetaMorphoTxs) == 0 &&
		cs.Config == nil && cs.Checkpoint == nil && cs.Snapshots.Len() == 0
}

// Validate checks entries for nil values and empty keys, and rejects
// transaction ids repeated inside the set.
func (cs *ChangeSet) Validate() error {
	if cs == nil {
		return ErrInvalidInput
	}
	for _, m := range cs.Markets {
		if m == nil {
			return fmt.Errorf("%w: nil market", ErrInvalidInput)
		}
	}
	for _, v := range cs.Vaults {
		if v == nil {
			return fmt.Errorf("%w: nil vault", ErrInvalidInput)
		}
	}
	for _, p := range cs.MarketPositions {
		if p == nil || p.ID == "" {
			return fmt.Errorf("%w: market position without id", ErrInvalidInput)
		}
	}
	for _, p := range cs.VaultPositions {
		if p == nil || p.ID == "" {
			return fmt.Errorf("%w: vault position without id", ErrInvalidInput)
		}
	}

	seen := make(map[string]struct{}, len(cs.MorphoTxs))
	for _, tx := range cs.MorphoTxs {
		if tx == nil || tx.ID == "" || !tx.Type.IsValid() {
			return fmt.Errorf("%w: malformed morpho tx", ErrInvalidInput)
		}
		if _, dup := seen[tx.ID]; dup {
			return fmt.Errorf("%w: morpho tx %s", ErrDuplicateKey, tx.ID)
		}
		seen[tx.ID] = struct{}{}
	}

	seen = make(map[string]struct{}, len(cs.MetaMorphoTxs))
	for _, tx := range cs.MetaMorphoTxs {
		if tx == nil || tx.ID == "" || !tx.Type.IsValid() {
			return fmt.Errorf("%w: malformed meta morpho tx", ErrInvalidInput)
		}
		if _, dup := seen[tx.ID]; dup {
			return fmt.Errorf("%w: meta morpho tx %s", ErrDuplicateKey, tx.ID)
		}
		seen[tx.ID] = struct{}{}
	}
	return nil
}

// KeepLink returns incoming, or existing when incoming is nil. Used when a
// snapshot is rewritten at the same (entity, timestamp).
func KeepLink(existing, incoming *string) *string {
	if incoming != nil {
		return incoming
	}
	return existing
}
