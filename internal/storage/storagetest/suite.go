// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/domain"
	"morpho-points/internal/idhash"
	"morpho-points/internal/storage"
)

var (
	MarketA = common.HexToHash("0x0a")
	MarketB = common.HexToHash("0x0b")
	VaultA  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	Alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Bob     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	TxHash  = common.HexToHash("0x1234")
)

// Market returns a market with some non-zero counters.
func Market(id common.Hash, ts int64) *domain.Market {
	m := domain.NewMarket(id, ts)
	m.LoanToken = common.HexToAddress("0x11")
	m.CollateralToken = VaultA
	m.LLTV = big.NewInt(860000000000000000)
	m.TotalSupplyShares = big.NewInt(1000)
	m.TotalSupplyAssets = big.NewInt(990)
	m.SupplyPointsIndex, _ = new(big.Int).SetString("12000000000000000000000000000000000000", 10)
	m.TotalSupplyPoints = big.NewInt(12000)
	return m
}

// MarketPosition returns a position with a supply balance.
func MarketPosition(market common.Hash, user common.Address, shares int64) *domain.MarketPosition {
	p := domain.NewMarketPosition(idhash.MarketPositionID(user, market), market, user)
	p.SupplyShares = big.NewInt(shares)
	p.SupplyPoints = big.NewInt(shares * 3)
	return p
}

// MorphoTx returns a supply tx for the given log.
func MorphoTx(market common.Hash, user common.Address, logIndex uint64) *domain.MorphoTx {
	return &domain.MorphoTx{
		ID:        idhash.LogID(TxHash, logIndex),
		Type:      domain.TxTypeSupply,
		Market:    market,
		User:      user,
		Shares:    big.NewInt(100),
		Assets:    big.NewInt(99),
		Timestamp: 1000,
		Provenance: domain.Provenance{
			TxHash:      TxHash,
			TxIndex:     2,
			LogIndex:    logIndex,
			BlockNumber: 10,
		},
	}
}

// RunStoreTests exercises a storage.Store implementation. newStore must
// return an empty store.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("ApplyAndGet", func(t *testing.T) { testApplyAndGet(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("DuplicateTxRejectsWholeSet", func(t *testing.T) { testDuplicateTx(t, newStore(t)) })
	t.Run("IntraSetDuplicate", func(t *testing.T) { testIntraSetDuplicate(t, newStore(t)) })
	t.Run("Listings", func(t *testing.T) { testListings(t, newStore(t)) })
	t.Run("ConfigAndCheckpoint", func(t *testing.T) { testConfigAndCheckpoint(t, newStore(t)) })
}

func testApplyAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	market := Market(MarketA, 1000)
	vault := domain.NewVault(VaultA, common.HexToAddress("0x11"), 900)
	feeRecipient := Bob
	vault.FeeRecipient = &feeRecipient
	vault.TotalShares = big.NewInt(77)
	pos := MarketPosition(MarketA, Alice, 100)
	vpos := domain.NewVaultPosition(idhash.VaultPositionID(Alice, VaultA), VaultA, Alice)
	vpos.Shares = big.NewInt(77)
	tx := MorphoTx(MarketA, Alice, 1)
	vtx := &domain.MetaMorphoTx{
		ID: idhash.LogID(TxHash, 2), Type: domain.VaultTxTypeDeposit, Vault: VaultA, User: Alice,
		Shares: big.NewInt(77), Assets: big.NewInt(80), Timestamp: 1000,
		Provenance: domain.Provenance{TxHash: TxHash, LogIndex: 2, BlockNumber: 10},
	}

	require.NoError(t, s.Apply(ctx, &storage.ChangeSet{
		Markets:         []*domain.Market{market},
		Vaults:          []*domain.Vault{vault},
		MarketPositions: []*domain.MarketPosition{pos},
		VaultPositions:  []*domain.VaultPosition{vpos},
		MorphoTxs:       []*domain.MorphoTx{tx},
		MetaMorphoTxs:   []*domain.MetaMorphoTx{vtx},
	}))

	gotMarket, err := s.GetMarket(ctx, MarketA)
	require.NoError(t, err)
	assert.Equal(t, market.LoanToken, gotMarket.LoanToken)
	assert.Equal(t, market.CollateralToken, gotMarket.CollateralToken)
	assert.Equal(t, market.LLTV.String(), gotMarket.LLTV.String())
	assert.Equal(t, "1000", gotMarket.TotalSupplyShares.String())
	assert.Equal(t, market.SupplyPointsIndex.String(), gotMarket.SupplyPointsIndex.String())
	assert.Equal(t, int64(1000), gotMarket.LastUpdate)

	// returned values are copies
	gotMarket.TotalSupplyShares.SetInt64(1)
	again, err := s.GetMarket(ctx, MarketA)
	require.NoError(t, err)
	assert.Equal(t, "1000", again.TotalSupplyShares.String())

	gotVault, err := s.GetVault(ctx, VaultA)
	require.NoError(t, err)
	require.NotNil(t, gotVault.FeeRecipient)
	assert.Equal(t, Bob, *gotVault.FeeRecipient)
	assert.Equal(t, "77", gotVault.TotalShares.String())
	assert.Equal(t, int64(900), gotVault.LastUpdate)

	gotPos, err := s.GetMarketPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, Alice, gotPos.User)
	assert.Equal(t, MarketA, gotPos.Market)
	assert.Equal(t, "300", gotPos.SupplyPoints.String())

	gotVpos, err := s.GetVaultPosition(ctx, vpos.ID)
	require.NoError(t, err)
	assert.Equal(t, "77", gotVpos.Shares.String())

	gotTx, err := s.GetMorphoTx(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeSupply, gotTx.Type)
	assert.Equal(t, "99", gotTx.Assets.String())
	assert.Equal(t, uint64(10), gotTx.BlockNumber)
	assert.Equal(t, TxHash, gotTx.TxHash)

	gotVtx, err := s.GetMetaMorphoTx(ctx, vtx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VaultTxTypeDeposit, gotVtx.Type)
	assert.Equal(t, "80", gotVtx.Assets.String())
}

func testNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.GetMarket(ctx, MarketA)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "market: %v", err)
	_, err = s.GetVault(ctx, VaultA)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "vault: %v", err)
	_, err = s.GetMarketPosition(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "position: %v", err)
	_, err = s.GetVaultPosition(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "vault position: %v", err)
	_, err = s.GetMorphoTx(ctx, "0x00")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "tx: %v", err)
	_, err = s.GetProtocolConfig(ctx)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "config: %v", err)
	_, err = s.GetCheckpoint(ctx)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "checkpoint: %v", err)
}

func testDuplicateTx(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := MorphoTx(MarketA, Alice, 1)
	require.NoError(t, s.Apply(ctx, &storage.ChangeSet{
		Markets:   []*domain.Market{Market(MarketA, 1000)},
		MorphoTxs: []*domain.MorphoTx{tx},
	}))

	updated := Market(MarketA, 2000)
	updated.TotalSupplyShares = big.NewInt(5)
	err := s.Apply(ctx, &storage.ChangeSet{
		Markets:    []*domain.Market{updated},
		MorphoTxs:  []*domain.MorphoTx{MorphoTx(MarketA, Alice, 1)},
		Checkpoint: &storage.Checkpoint{BlockNumber: 11},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "got %v", err)

	got, err := s.GetMarket(ctx, MarketA)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.LastUpdate, "rejected set must not be applied")
	assert.Equal(t, "1000", got.TotalSupplyShares.String())

	_, err = s.GetCheckpoint(ctx)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testIntraSetDuplicate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	err := s.Apply(ctx, &storage.ChangeSet{
		MorphoTxs: []*domain.MorphoTx{MorphoTx(MarketA, Alice, 1), MorphoTx(MarketA, Bob, 1)},
	})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "got %v", err)
}

func testListings(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, &storage.ChangeSet{
		Markets: []*domain.Market{Market(MarketB, 1), Market(MarketA, 1)},
		MarketPositions: []*domain.MarketPosition{
			MarketPosition(MarketA, Alice, 1),
			MarketPosition(MarketA, Bob, 2),
			MarketPosition(MarketB, Alice, 3),
		},
		MorphoTxs: []*domain.MorphoTx{
			MorphoTx(MarketA, Alice, 5),
			MorphoTx(MarketA, Bob, 3),
			MorphoTx(MarketB, Alice, 4),
		},
	}))

	markets, err := s.ListMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, MarketA, markets[0].ID)
	assert.Equal(t, MarketB, markets[1].ID)

	byMarket, err := s.ListMarketPositionsByMarket(ctx, MarketA)
	require.NoError(t, err)
	require.Len(t, byMarket, 2)
	assert.True(t, byMarket[0].ID < byMarket[1].ID)

	byUser, err := s.ListMarketPositionsByUser(ctx, Alice)
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	for _, p := range byUser {
		assert.Equal(t, Alice, p.User)
	}

	txs, err := s.ListMorphoTxsByMarket(ctx, MarketA)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, uint64(3), txs[0].LogIndex)
	assert.Equal(t, uint64(5), txs[1].LogIndex)

	vaultPositions, err := s.ListVaultPositionsByUser(ctx, Alice)
	require.NoError(t, err)
	assert.Empty(t, vaultPositions)
}

func testConfigAndCheckpoint(t *testing.T, s storage.Store) {
	ctx := context.Background()
	recipient := Bob
	require.NoError(t, s.Apply(ctx, &storage.ChangeSet{
		Config:     &domain.ProtocolConfig{FeeRecipient: &recipient, UpdatedAt: 50},
		Checkpoint: &storage.Checkpoint{BlockNumber: 10, TxIndex: 1, LogIndex: 4, Timestamp: 50},
	}))

	cfg, err := s.GetProtocolConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg.FeeRecipient)
	assert.Equal(t, Bob, *cfg.FeeRecipient)

	cp, err := s.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Checkpoint{BlockNumber: 10, TxIndex: 1, LogIndex: 4, Timestamp: 50}, *cp)

	// later writes replace the single row
	require.NoError(t, s.Apply(ctx, &storage.ChangeSet{
		Config:     &domain.ProtocolConfig{FeeRecipient: &Alice, UpdatedAt: 60},
		Checkpoint: &storage.Checkpoint{BlockNumber: 11, Timestamp: 60},
	}))
	cfg, err = s.GetProtocolConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, Alice, *cfg.FeeRecipient)
	cp, err = s.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), cp.BlockNumber)
}

// RunSnapshotStoreTests exercises a storage.SnapshotStore implementation.
func RunSnapshotStoreTests(t *testing.T, newStore func(t *testing.T) storage.SnapshotStore) {
	t.Run("WriteAndGet", func(t *testing.T) { testSnapshotWriteAndGet(t, newStore(t)) })
	t.Run("RewriteKeepsLink", func(t *testing.T) { testSnapshotRewriteKeepsLink(t, newStore(t)) })
}

func testSnapshotWriteAndGet(t *testing.T, s storage.SnapshotStore) {
	ctx := context.Background()
	prev := idhash.SnapshotID(MarketA.Hex(), 900)
	marketSnap := &domain.MarketSnapshot{
		ID: idhash.SnapshotID(MarketA.Hex(), 1000), PreviousSnapshot: &prev, Market: MarketA,
		Timestamp: 1000, BlockNumber: 10,
		TotalSupplyShares: big.NewInt(100), TotalBorrowShares: big.NewInt(0), TotalCollateral: big.NewInt(5),
		TotalSupplyPoints: big.NewInt(7), TotalBorrowPoints: big.NewInt(0), TotalCollateralPoints: big.NewInt(0),
		SupplyPointsIndex: big.NewInt(1), BorrowPointsIndex: big.NewInt(0), CollateralPointsIndex: big.NewInt(0),
	}
	posID := idhash.MarketPositionID(Alice, MarketA)
	posSnap := &domain.MarketPositionSnapshot{
		ID: idhash.SnapshotID(posID, 1000), Position: posID, MarketSnapshot: marketSnap.ID,
		Timestamp: 1000, BlockNumber: 10,
		SupplyShares: big.NewInt(100), BorrowShares: big.NewInt(0), Collateral: big.NewInt(0),
		SupplyPoints: big.NewInt(7), BorrowPoints: big.NewInt(0), CollateralPoints: big.NewInt(0),
	}
	vaultSnap := &domain.VaultSnapshot{
		ID: idhash.SnapshotID(VaultA.Hex(), 1000), Vault: VaultA, Timestamp: 1000, BlockNumber: 10,
		TotalShares: big.NewInt(3), TotalPoints: big.NewInt(4), PointsIndex: big.NewInt(5),
	}
	vposID := idhash.VaultPositionID(Alice, VaultA)
	vposSnap := &domain.VaultPositionSnapshot{
		ID: idhash.SnapshotID(vposID, 1000), Position: vposID, VaultSnapshot: vaultSnap.ID,
		Timestamp: 1000, BlockNumber: 10, Shares: big.NewInt(3), SupplyPoints: big.NewInt(4),
	}

	require.NoError(t, s.WriteSnapshots(ctx, &storage.SnapshotSet{
		Markets:         []*domain.MarketSnapshot{marketSnap},
		MarketPositions: []*domain.MarketPositionSnapshot{posSnap},
		Vaults:          []*domain.VaultSnapshot{vaultSnap},
		VaultPositions:  []*domain.VaultPositionSnapshot{vposSnap},
	}))

	gotMarket, err := s.GetMarketSnapshot(ctx, marketSnap.ID)
	require.NoError(t, err)
	require.NotNil(t, gotMarket.PreviousSnapshot)
	assert.Equal(t, prev, *gotMarket.PreviousSnapshot)
	assert.Equal(t, "100", gotMarket.TotalSupplyShares.String())
	assert.Equal(t, "5", gotMarket.TotalCollateral.String())

	gotPos, err := s.GetMarketPositionSnapshot(ctx, posSnap.ID)
	require.NoError(t, err)
	assert.Nil(t, gotPos.PreviousSnapshot)
	assert.Equal(t, marketSnap.ID, gotPos.MarketSnapshot)
	assert.Equal(t, "7", gotPos.SupplyPoints.String())

	gotVault, err := s.GetVaultSnapshot(ctx, vaultSnap.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", gotVault.PointsIndex.String())

	gotVpos, err := s.GetVaultPositionSnapshot(ctx, vposSnap.ID)
	require.NoError(t, err)
	assert.Equal(t, vaultSnap.ID, gotVpos.VaultSnapshot)

	_, err = s.GetMarketSnapshot(ctx, "missing-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testSnapshotRewriteKeepsLink(t *testing.T, s storage.SnapshotStore) {
	ctx := context.Background()
	prev := idhash.SnapshotID(VaultA.Hex(), 900)
	id := idhash.SnapshotID(VaultA.Hex(), 1000)
	first := &domain.VaultSnapshot{
		ID: id, PreviousSnapshot: &prev, Vault: VaultA, Timestamp: 1000, BlockNumber: 10,
		TotalShares: big.NewInt(3), TotalPoints: big.NewInt(4), PointsIndex: big.NewInt(5),
	}
	second := &domain.VaultSnapshot{
		ID: id, Vault: VaultA, Timestamp: 1000, BlockNumber: 10,
		TotalShares: big.NewInt(9), TotalPoints: big.NewInt(4), PointsIndex: big.NewInt(5),
	}

	require.NoError(t, s.WriteSnapshots(ctx, &storage.SnapshotSet{Vaults: []*domain.VaultSnapshot{first}}))
	require.NoError(t, s.WriteSnapshots(ctx, &storage.SnapshotSet{Vaults: []*domain.VaultSnapshot{second}}))

	got, err := s.GetVaultSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "9", got.TotalShares.String())
	require.NotNil(t, got.PreviousSnapshot)
	assert.Equal(t, prev, *got.PreviousSnapshot)
}
