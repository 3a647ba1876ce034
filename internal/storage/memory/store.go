package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

// Store is an in-memory implementation of storage.Store and storage.SnapshotStore.
type Store struct {
	mu sync.RWMutex

	markets         map[common.Hash]*domain.Market
	vaults          map[common.Address]*domain.Vault
	marketPositions map[string]*domain.MarketPosition
	vaultPositions  map[string]*domain.VaultPosition
	morphoTxs       map[string]*domain.MorphoTx
	metaMorphoTxs   map[string]*domain.MetaMorphoTx
	config          *domain.ProtocolConfig
	checkpoint      *storage.Checkpoint

	snapshots
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		markets:         make(map[common.Hash]*domain.Market),
		vaults:          make(map[common.Address]*domain.Vault),
		marketPositions: make(map[string]*domain.MarketPosition),
		vaultPositions:  make(map[string]*domain.VaultPosition),
		morphoTxs:       make(map[string]*domain.MorphoTx),
		metaMorphoTxs:   make(map[string]*domain.MetaMorphoTx),
		snapshots:       newSnapshots(),
	}
}

// Compile-time interface checks.
var (
	_ storage.Store         = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// Apply writes the change set atomically. Fails the entire set on any duplicate tx id.
func (s *Store) Apply(_ context.Context, cs *storage.ChangeSet) error {
	if err := cs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: duplicates against existing records
	for _, tx := range cs.MorphoTxs {
		if _, exists := s.morphoTxs[tx.ID]; exists {
			return fmt.Errorf("%w: morpho tx %s", storage.ErrDuplicateKey, tx.ID)
		}
	}
	for _, tx := range cs.MetaMorphoTxs {
		if _, exists := s.metaMorphoTxs[tx.ID]; exists {
			return fmt.Errorf("%w: meta morpho tx %s", storage.ErrDuplicateKey, tx.ID)
		}
	}

	// Second pass: write
	for _, m := range cs.Markets {
		s.markets[m.ID] = m.Clone()
	}
	for _, v := range cs.Vaults {
		s.vaults[v.ID] = v.Clone()
	}
	for _, p := range cs.MarketPositions {
		s.marketPositions[p.ID] = p.Clone()
	}
	for _, p := range cs.VaultPositions {
		s.vaultPositions[p.ID] = p.Clone()
	}
	for _, tx := range cs.MorphoTxs {
		cp := *tx
		s.morphoTxs[tx.ID] = &cp
	}
	for _, tx := range cs.MetaMorphoTxs {
		cp := *tx
		s.metaMorphoTxs[tx.ID] = &cp
	}
	if cs.Config != nil {
		s.config = cs.Config.Clone()
	}
	if cs.Checkpoint != nil {
		cp := *cs.Checkpoint
		s.checkpoint = &cp
	}
	s.snapshots.write(&cs.Snapshots)
	return nil
}

// GetMarket retrieves a market by id.
func (s *Store) GetMarket(_ context.Context, id common.Hash) (*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// ListMarkets returns all markets ordered by id.
func (s *Store) ListMarkets(_ context.Context) ([]*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		result = append(result, m.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.Cmp(result[j].ID) < 0
	})
	return result, nil
}

// GetVault retrieves a vault by address.
func (s *Store) GetVault(_ context.Context, id common.Address) (*domain.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v.Clone(), nil
}

// ListVaults returns all vaults ordered by address.
func (s *Store) ListVaults(_ context.Context) ([]*domain.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Vault, 0, len(s.vaults))
	for _, v := range s.vaults {
		result = append(result, v.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.Cmp(result[j].ID) < 0
	})
	return result, nil
}

// GetMarketPosition retrieves a market position by id.
func (s *Store) GetMarketPosition(_ context.Context, id string) (*domain.MarketPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.marketPositions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// ListMarketPositionsByMarket returns a market's positions ordered by id.
func (s *Store) ListMarketPositionsByMarket(_ context.Context, market common.Hash) ([]*domain.MarketPosition, error) {
	return s.filterMarketPositions(func(p *domain.MarketPosition) bool { return p.Market == market }), nil
}

// ListMarketPositionsByUser returns a user's positions ordered by id.
func (s *Store) ListMarketPositionsByUser(_ context.Context, user common.Address) ([]*domain.MarketPosition, error) {
	return s.filterMarketPositions(func(p *domain.MarketPosition) bool { return p.User == user }), nil
}

func (s *Store) filterMarketPositions(keep func(*domain.MarketPosition) bool) []*domain.MarketPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MarketPosition
	for _, p := range s.marketPositions {
		if keep(p) {
			result = append(result, p.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetVaultPosition retrieves a vault position by id.
func (s *Store) GetVaultPosition(_ context.Context, id string) (*domain.VaultPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.vaultPositions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// ListVaultPositionsByVault returns a vault's positions ordered by id.
func (s *Store) ListVaultPositionsByVault(_ context.Context, vault common.Address) ([]*domain.VaultPosition, error) {
	return s.filterVaultPositions(func(p *domain.VaultPosition) bool { return p.Vault == vault }), nil
}

// ListVaultPositionsByUser returns a user's vault positions ordered by id.
func (s *Store) ListVaultPositionsByUser(_ context.Context, user common.Address) ([]*domain.VaultPosition, error) {
	return s.filterVaultPositions(func(p *domain.VaultPosition) bool { return p.User == user }), nil
}

func (s *Store) filterVaultPositions(keep func(*domain.VaultPosition) bool) []*domain.VaultPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VaultPosition
	for _, p := range s.vaultPositions {
		if keep(p) {
			result = append(result, p.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetMorphoTx retrieves a market transaction by id.
func (s *Store) GetMorphoTx(_ context.Context, id string) (*domain.MorphoTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.morphoTxs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

// ListMorphoTxsByMarket returns a market's transactions in chain order.
func (s *Store) ListMorphoTxsByMarket(_ context.Context, market common.Hash) ([]*domain.MorphoTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MorphoTx
	for _, tx := range s.morphoTxs {
		if tx.Market == market {
			cp := *tx
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return lessProvenance(result[i].Provenance, result[j].Provenance, result[i].ID, result[j].ID)
	})
	return result, nil
}

// GetMetaMorphoTx retrieves a vault transaction by id.
func (s *Store) GetMetaMorphoTx(_ context.Context, id string) (*domain.MetaMorphoTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.metaMorphoTxs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

// ListMetaMorphoTxsByVault returns a vault's transactions in chain order.
func (s *Store) ListMetaMorphoTxsByVault(_ context.Context, vault common.Address) ([]*domain.MetaMorphoTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MetaMorphoTx
	for _, tx := range s.metaMorphoTxs {
		if tx.Vault == vault {
			cp := *tx
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return lessProvenance(result[i].Provenance, result[j].Provenance, result[i].ID, result[j].ID)
	})
	return result, nil
}

// lessProvenance orders by (block, tx index, log index, id).
func lessProvenance(a, b domain.Provenance, idA, idB string) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	if a.TxIndex != b.TxIndex {
		return a.TxIndex < b.TxIndex
	}
	if a.LogIndex != b.LogIndex {
		return a.LogIndex < b.LogIndex
	}
	return idA < idB
}

// GetProtocolConfig returns the protocol config.
func (s *Store) GetProtocolConfig(_ context.Context) (*domain.ProtocolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, storage.ErrNotFound
	}
	return s.config.Clone(), nil
}

// GetCheckpoint returns the last applied event position.
func (s *Store) GetCheckpoint(_ context.Context) (*storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.checkpoint == nil {
		return nil, storage.ErrNotFound
	}
	cp := *s.checkpoint
	return &cp, nil
}
