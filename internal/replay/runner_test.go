package replay

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/domain"
	"morpho-points/internal/engine"
	"morpho-points/internal/idhash"
	"morpho-points/internal/ingestion"
	"morpho-points/internal/storage/memory"
)

var (
	morpho = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	market = common.HexToHash("0x0a")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func meta(block uint64, logIndex uint64) domain.EventMeta {
	return domain.EventMeta{
		Address:        morpho,
		BlockNumber:    block,
		BlockTimestamp: int64(block),
		TxHash:         common.BigToHash(new(big.Int).SetUint64(block)),
		LogIndex:       logIndex,
	}
}

func supply(block uint64, shares int64) domain.Event {
	return domain.Supply{
		EventMeta: meta(block, 0), Market: market, Caller: alice, OnBehalf: alice,
		Assets: big.NewInt(shares), Shares: big.NewInt(shares),
	}
}

func withdraw(block uint64, shares int64) domain.Event {
	return domain.Withdraw{
		EventMeta: meta(block, 0), Market: market, Caller: alice, OnBehalf: alice, Receiver: alice,
		Assets: big.NewInt(shares), Shares: big.NewInt(shares),
	}
}

func history() []domain.Event {
	return []domain.Event{
		domain.CreateMarket{EventMeta: meta(1, 0), ID: market, LLTV: big.NewInt(0)},
		supply(10, 100),
		withdraw(15, 500), // more than alice holds
		supply(20, 50),
	}
}

// listSource serves events exactly as given, then an optional error.
type listSource struct {
	events []domain.Event
	err    error
}

func (s *listSource) Next(context.Context) (domain.Event, error) {
	if len(s.events) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *listSource) Close() error { return nil }

func newEngine(store *memory.Store) *engine.Engine {
	return engine.New(store, engine.Options{MorphoAddress: morpho})
}

func TestRunner_AppliesAndRejects(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	stats, err := NewRunner(ingestion.NewSliceSource(history()), newEngine(store), store, Options{ProgressEvery: 1}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Read)
	assert.Equal(t, 3, stats.Applied)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 2, stats.MorphoTxs)
	assert.Equal(t, uint64(20), stats.Last.BlockNumber)

	pos, err := store.GetMarketPosition(ctx, idhash.MarketPositionID(alice, market))
	require.NoError(t, err)
	assert.Equal(t, "150", pos.SupplyShares.String())
	assert.Equal(t, "1000", pos.SupplyPoints.String())

	cp, err := store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cp.BlockNumber)
}

func TestRunner_ResumesAfterCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	_, err := NewRunner(ingestion.NewSliceSource(history()), newEngine(store), store, Options{}).Run(ctx)
	require.NoError(t, err)

	// the same stream plus one new event, as after a restart
	events := append(history(), supply(30, 10))
	stats, err := NewRunner(ingestion.NewSliceSource(events), newEngine(store), store, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Skipped)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 0, stats.Rejected)

	pos, err := store.GetMarketPosition(ctx, idhash.MarketPositionID(alice, market))
	require.NoError(t, err)
	assert.Equal(t, "160", pos.SupplyShares.String())
	assert.Equal(t, "2500", pos.SupplyPoints.String()) // 1000 + 10*150
}

func TestRunner_FatalStops(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	// no CreateMarket: the market is unknown
	src := &listSource{events: []domain.Event{supply(10, 100), supply(20, 100)}}
	stats, err := NewRunner(src, newEngine(store), store, Options{}).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrMarketNotFound))
	assert.Equal(t, 1, stats.Read)
	assert.Equal(t, 0, stats.Applied)

	_, err = store.GetCheckpoint(ctx)
	assert.Error(t, err, "nothing was committed")
}

func TestRunner_OutOfOrderIsFatal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	events := history()
	src := &listSource{events: []domain.Event{events[0], events[3], events[1]}}
	stats, err := NewRunner(src, newEngine(store), store, Options{}).Run(ctx)
	require.ErrorIs(t, err, ingestion.ErrInvalidOrdering)
	assert.Equal(t, 2, stats.Applied)
}

func TestRunner_SourceError(t *testing.T) {
	boom := errors.New("feed closed")
	store := memory.NewStore()
	src := &listSource{events: history()[:1], err: boom}

	stats, err := NewRunner(src, newEngine(store), nil, Options{}).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Applied)
}

func TestCheckpoint_NilStore(t *testing.T) {
	cp, err := Checkpoint(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, cp)
}
