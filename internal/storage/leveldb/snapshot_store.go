package leveldb

import (
	"context"
	"errors"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
)

// WriteSnapshots upserts snapshots by id in one synced batch.
func (s *Store) WriteSnapshots(_ context.Context, set *storage.SnapshotSet) error {
	if set == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := new(batch)
	if err := s.stageSnapshots(b, set); err != nil {
		return err
	}
	return b.write(s.db)
}

// stageSnapshots adds set to b, carrying forward stored links for rewrites.
// Callers hold s.mu.
func (s *Store) stageSnapshots(b *batch, set *storage.SnapshotSet) error {
	for _, snap := range set.Markets {
		cp := *snap
		link, err := s.storedLink(prefixMarketSnapshot+snap.ID, &domain.MarketSnapshot{}, func(v any) *string {
			return v.(*domain.MarketSnapshot).PreviousSnapshot
		})
		if err != nil {
			return err
		}
		cp.PreviousSnapshot = storage.KeepLink(link, snap.PreviousSnapshot)
		b.put(prefixMarketSnapshot+snap.ID, &cp)
	}
	for _, snap := range set.MarketPositions {
		cp := *snap
		link, err := s.storedLink(prefixMPSnapshot+snap.ID, &domain.MarketPositionSnapshot{}, func(v any) *string {
			return v.(*domain.MarketPositionSnapshot).PreviousSnapshot
		})
		if err != nil {
			return err
		}
		cp.PreviousSnapshot = storage.KeepLink(link, snap.PreviousSnapshot)
		b.put(prefixMPSnapshot+snap.ID, &cp)
	}
	for _, snap := range set.Vaults {
		cp := *snap
		link, err := s.storedLink(prefixVaultSnapshot+snap.ID, &domain.VaultSnapshot{}, func(v any) *string {
			return v.(*domain.VaultSnapshot).PreviousSnapshot
		})
		if err != nil {
			return err
		}
		cp.PreviousSnapshot = storage.KeepLink(link, snap.PreviousSnapshot)
		b.put(prefixVaultSnapshot+snap.ID, &cp)
	}
	for _, snap := range set.VaultPositions {
		cp := *snap
		link, err := s.storedLink(prefixVPSnapshot+snap.ID, &domain.VaultPositionSnapshot{}, func(v any) *string {
			return v.(*domain.VaultPositionSnapshot).PreviousSnapshot
		})
		if err != nil {
			return err
		}
		cp.PreviousSnapshot = storage.KeepLink(link, snap.PreviousSnapshot)
		b.put(prefixVPSnapshot+snap.ID, &cp)
	}
	return nil
}

// storedLink returns the PreviousSnapshot of the record at key, or nil when
// there is none.
func (s *Store) storedLink(key string, into any, link func(any) *string) (*string, error) {
	if err := s.get(key, into); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return link(into), nil
}

// GetMarketSnapshot retrieves a market snapshot by id.
func (s *Store) GetMarketSnapshot(_ context.Context, id string) (*domain.MarketSnapshot, error) {
	var snap domain.MarketSnapshot
	if err := s.get(prefixMarketSnapshot+id, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetMarketPositionSnapshot retrieves a market position snapshot by id.
func (s *Store) GetMarketPositionSnapshot(_ context.Context, id string) (*domain.MarketPositionSnapshot, error) {
	var snap domain.MarketPositionSnapshot
	if err := s.get(prefixMPSnapshot+id, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetVaultSnapshot retrieves a vault snapshot by id.
func (s *Store) GetVaultSnapshot(_ context.Context, id string) (*domain.VaultSnapshot, error) {
	var snap domain.VaultSnapshot
	if err := s.get(prefixVaultSnapshot+id, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetVaultPositionSnapshot retrieves a vault position snapshot by id.
func (s *Store) GetVaultPositionSnapshot(_ context.Context, id string) (*domain.VaultPositionSnapshot, error) {
	var snap domain.VaultPositionSnapshot
	if err := s.get(prefixVPSnapshot+id, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
