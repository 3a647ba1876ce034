package memory

import (
	"context"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

// snapshots holds snapshot maps guarded by Store.mu.
type snapshots struct {
	marketSnapshots         map[string]*domain.MarketSnapshot
	marketPositionSnapshots map[string]*domain.MarketPositionSnapshot
	vaultSnapshots          map[string]*domain.VaultSnapshot
	vaultPositionSnapshots  map[string]*domain.VaultPositionSnapshot
}

func newSnapshots() snapshots {
	return snapshots{
		marketSnapshots:         make(map[string]*domain.MarketSnapshot),
		marketPositionSnapshots: make(map[string]*domain.MarketPositionSnapshot),
		vaultSnapshots:          make(map[string]*domain.VaultSnapshot),
		vaultPositionSnapshots:  make(map[string]*domain.VaultPositionSnapshot),
	}
}

// write upserts by id, keeping an existing previous link when the new one is nil.
func (s *snapshots) write(set *storage.SnapshotSet) {
	for _, snap := range set.Markets {
		cp := *snap
		if old, ok := s.marketSnapshots[snap.ID]; ok {
			cp.PreviousSnapshot = storage.KeepLink(old.PreviousSnapshot, snap.PreviousSnapshot)
		}
		s.marketSnapshots[snap.ID] = &cp
	}
	for _, snap := range set.MarketPositions {
		cp := *snap
		if old, ok := s.marketPositionSnapshots[snap.ID]; ok {
			cp.PreviousSnapshot = storage.KeepLink(old.PreviousSnapshot, snap.PreviousSnapshot)
		}
		s.marketPositionSnapshots[snap.ID] = &cp
	}
	for _, snap := range set.Vaults {
		cp := *snap
		if old, ok := s.vaultSnapshots[snap.ID]; ok {
			cp.PreviousSnapshot = storage.KeepLink(old.PreviousSnapshot, snap.PreviousSnapshot)
		}
		s.vaultSnapshots[snap.ID] = &cp
	}
	for _, snap := range set.VaultPositions {
		cp := *snap
		if old, ok := s.vaultPositionSnapshots[snap.ID]; ok {
			cp.PreviousSnapshot = storage.KeepLink(old.PreviousSnapshot, snap.PreviousSnapshot)
		}
		s.vaultPositionSnapshots[snap.ID] = &cp
	}
}

// WriteSnapshots upserts snapshots by id.
func (s *Store) WriteSnapshots(_ context.Context, set *storage.SnapshotSet) error {
	if set == nil {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots.write(set)
	return nil
}

// GetMarketSnapshot retrieves a market snapshot by id.
func (s *Store) GetMarketSnapshot(_ context.Context, id string) (*domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.marketSnapshots[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

// GetMarketPositionSnapshot retrieves a market position snapshot by id.
func (s *Store) GetMarketPositionSnapshot(_ context.Context, id string) (*domain.MarketPositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.marketPositionSnapshots[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

// GetVaultSnapshot retrieves a vault snapshot by id.
func (s *Store) GetVaultSnapshot(_ context.Context, id string) (*domain.VaultSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.vaultSnapshots[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

// GetVaultPositionSnapshot retrieves a vault position snapshot by id.
func (s *Store) GetVaultPositionSnapshot(_ context.Context, id string) (*domain.VaultPositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.vaultPositionSnapshots[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}
