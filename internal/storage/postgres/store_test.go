package postgres_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
	"morpho-points/internal/storage"
	"morpho-points/internal/storage/postgres"
	"morpho-points/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	pool := setupTestDB(t)

	storagetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		truncate(t, pool)
		return postgres.NewStore(pool)
	})
	storagetest.RunSnapshotStoreTests(t, func(t *testing.T) storage.SnapshotStore {
		truncate(t, pool)
		return postgres.NewStore(pool)
	})
}

func TestStore_LargeValues(t *testing.T) {
	pool := setupTestDB(t)
	store := postgres.NewStore(pool)
	ctx := context.Background()

	// index values are scaled by 1e36 and outgrow int64 quickly
	huge, ok := new(big.Int).SetString("123456789012345678901234567890123456789012345678901234567890", 10)
	require.True(t, ok)

	market := storagetest.Market(storagetest.MarketA, 1)
	market.SupplyPointsIndex = huge
	pos := storagetest.MarketPosition(storagetest.MarketA, storagetest.Alice, 1)
	pos.LastSupplyPointsIndex = huge
	tx := storagetest.MorphoTx(storagetest.MarketA, storagetest.Alice, 1)
	tx.Shares = new(big.Int).Neg(huge)

	require.NoError(t, store.Apply(ctx, &storage.ChangeSet{
		Markets:         []*domain.Market{market},
		MarketPositions: []*domain.MarketPosition{pos},
		MorphoTxs:       []*domain.MorphoTx{tx},
	}))

	got, err := store.GetMarket(ctx, storagetest.MarketA)
	require.NoError(t, err)
	assert.Equal(t, huge.String(), got.SupplyPointsIndex.String())

	gotPos, err := store.GetMarketPosition(ctx, idhash.MarketPositionID(storagetest.Alice, storagetest.MarketA))
	require.NoError(t, err)
	assert.Equal(t, huge.String(), gotPos.LastSupplyPointsIndex.String())

	gotTx, err := store.GetMorphoTx(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "-"+huge.String(), gotTx.Shares.String())
}
