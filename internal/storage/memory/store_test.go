package memory

import (
	"context"
	"math/big"
	"testing"

	"morpho-points/internal/domain"
	"morpho-points/internal/storage"
	"morpho-points/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		return NewStore()
	})
}

func TestStore_Snapshots(t *testing.T) {
	storagetest.RunSnapshotStoreTests(t, func(t *testing.T) storage.SnapshotStore {
		return NewStore()
	})
}

func TestStore_ApplyStoresCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	market := storagetest.Market(storagetest.MarketA, 10)
	if err := store.Apply(ctx, &storage.ChangeSet{Markets: []*domain.Market{market}}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// mutating the caller's value after Apply must not leak into the store
	market.TotalSupplyShares.SetInt64(1)
	market.LastUpdate = 99

	got, err := store.GetMarket(ctx, storagetest.MarketA)
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if got.TotalSupplyShares.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("TotalSupplyShares = %s, want 1000", got.TotalSupplyShares)
	}
	if got.LastUpdate != 10 {
		t.Errorf("LastUpdate = %d, want 10", got.LastUpdate)
	}
}

func TestStore_ApplySnapshotsWithState(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	snap := &domain.VaultSnapshot{ID: "v-1", Vault: storagetest.VaultA, Timestamp: 1}
	err := store.Apply(ctx, &storage.ChangeSet{
		Snapshots: storage.SnapshotSet{Vaults: []*domain.VaultSnapshot{snap}},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := store.GetVaultSnapshot(ctx, "v-1"); err != nil {
		t.Errorf("GetVaultSnapshot failed: %v", err)
	}
}
