package verification_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/accrual"
	"morpho-points/internal/domain"
	"morpho-points/internal/engine"
	"morpho-points/internal/idhash"
	"morpho-points/internal/storage"
	"morpho-points/internal/storage/memory"
	"morpho-points/internal/verification"
)

var (
	morpho       = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	vault        = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	market       = common.HexToHash("0x0a")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob          = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	feeRecipient = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

func meta(addr common.Address, ts int64, logIndex uint64) domain.EventMeta {
	return domain.EventMeta{
		Address: addr, BlockNumber: uint64(ts), BlockTimestamp: ts,
		TxHash: common.BigToHash(big.NewInt(ts)), LogIndex: logIndex,
	}
}

// build runs a mixed history where the market's collateral is the vault's
// share token, so the coupling path is covered too.
func build(t *testing.T, emission accrual.Emission) (*memory.Store, *engine.Engine) {
	t.Helper()
	store := memory.NewStore()
	eng := engine.New(store, engine.Options{MorphoAddress: morpho, Emission: emission})
	ctx := context.Background()

	events := []domain.Event{
		domain.CreateVault{EventMeta: meta(morpho, 0, 0), Vault: vault},
		domain.CreateMarket{EventMeta: meta(morpho, 0, 1), ID: market, CollateralToken: vault, LLTV: big.NewInt(0)},
		domain.SetFeeRecipient{EventMeta: meta(morpho, 0, 2), FeeRecipient: feeRecipient},
		domain.VaultDeposit{EventMeta: meta(vault, 3, 0), Owner: alice, Assets: big.NewInt(500), Shares: big.NewInt(500)},
		domain.SupplyCollateral{EventMeta: meta(morpho, 7, 0), Market: market, Caller: alice, OnBehalf: alice, Assets: big.NewInt(200)},
		domain.Supply{EventMeta: meta(morpho, 11, 0), Market: market, OnBehalf: bob, Assets: big.NewInt(1000), Shares: big.NewInt(997)},
		domain.Borrow{EventMeta: meta(morpho, 13, 0), Market: market, OnBehalf: alice, Assets: big.NewInt(300), Shares: big.NewInt(299)},
		domain.AccrueInterest{EventMeta: meta(morpho, 29, 0), Market: market, Interest: big.NewInt(31), FeeShares: big.NewInt(3)},
		domain.Liquidate{
			EventMeta: meta(morpho, 37, 0), Market: market, Caller: bob, Borrower: alice,
			RepaidAssets: big.NewInt(100), RepaidShares: big.NewInt(99), SeizedAssets: big.NewInt(120),
			BadDebtAssets: big.NewInt(5), BadDebtShares: big.NewInt(4),
		},
		domain.VaultTransfer{EventMeta: meta(vault, 41, 0), From: alice, To: bob, Value: big.NewInt(50)},
		domain.Withdraw{EventMeta: meta(morpho, 53, 0), Market: market, OnBehalf: bob, Receiver: bob, Assets: big.NewInt(400), Shares: big.NewInt(397)},
	}
	for _, ev := range events {
		_, err := eng.Process(ctx, ev)
		require.NoError(t, err, "%s", ev.Kind())
	}
	return store, eng
}

func TestVerify_ConsistentState(t *testing.T) {
	for _, emission := range []accrual.Emission{
		accrual.ShareSecondsEmission{},
		accrual.FixedRateEmission{RatePerSecond: big.NewInt(1_000_000_007)},
	} {
		t.Run(emission.Name(), func(t *testing.T) {
			store, eng := build(t, emission)
			report, err := verification.NewVerifier(store, eng.Accumulator()).Verify(context.Background())
			require.NoError(t, err)
			assert.True(t, report.OK(), "issues: %v", report.Issues)
			assert.Equal(t, 1, report.Markets)
			assert.Equal(t, 1, report.Vaults)
			assert.Positive(t, report.Positions)
			assert.Positive(t, report.Transactions)
		})
	}
}

func TestVerify_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store, eng := build(t, nil)

	// bump bob's supply without a matching aggregate change or tx
	pos, err := store.GetMarketPosition(ctx, idhash.MarketPositionID(bob, market))
	require.NoError(t, err)
	pos.SupplyShares.Add(pos.SupplyShares, big.NewInt(1))
	pos.SupplyPoints.Add(pos.SupplyPoints, big.NewInt(1_000_000))
	require.NoError(t, store.Apply(ctx, &storage.ChangeSet{MarketPositions: []*domain.MarketPosition{pos}}))

	report, err := verification.NewVerifier(store, eng.Accumulator()).Verify(ctx)
	require.NoError(t, err)
	require.False(t, report.OK())

	checks := make(map[string]bool)
	for _, issue := range report.Issues {
		checks[issue.Check] = true
		assert.NotEmpty(t, issue.String())
	}
	assert.True(t, checks[verification.CheckConservation])
	assert.True(t, checks[verification.CheckPointsBound])
	assert.False(t, checks[verification.CheckLedger], "ledger still matches the aggregate")
}

func TestVerify_NegativeAndLedger(t *testing.T) {
	ctx := context.Background()
	store, eng := build(t, nil)

	v, err := store.GetVault(ctx, vault)
	require.NoError(t, err)
	v.TotalShares = big.NewInt(-1)
	require.NoError(t, store.Apply(ctx, &storage.ChangeSet{Vaults: []*domain.Vault{v}}))

	report, err := verification.NewVerifier(store, eng.Accumulator()).Verify(ctx)
	require.NoError(t, err)

	checks := make(map[string]bool)
	for _, issue := range report.Issues {
		checks[issue.Check] = true
	}
	assert.True(t, checks[verification.CheckNonNegative])
	assert.True(t, checks[verification.CheckLedger])
}

func TestVerify_Empty(t *testing.T) {
	report, err := verification.NewVerifier(memory.NewStore(), accrual.New(nil)).Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Zero(t, report.Markets)
}
