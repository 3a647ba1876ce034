package reporting

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/domain"
	"morpho-points/internal/engine"
	"morpho-points/internal/query"
	"morpho-points/internal/storage/memory"
	"morpho-points/internal/verification"
)

var (
	morpho = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	vault  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	market = common.HexToHash("0x0a")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func fixedClock() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func meta(addr common.Address, ts int64, logIndex uint64) domain.EventMeta {
	return domain.EventMeta{
		Address: addr, BlockNumber: uint64(ts), BlockTimestamp: ts,
		TxHash: common.BigToHash(big.NewInt(ts)), LogIndex: logIndex,
	}
}

func setupTestData(t *testing.T) (*Generator, *engine.Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	eng := engine.New(store, engine.Options{MorphoAddress: morpho})

	events := []domain.Event{
		domain.CreateMarket{EventMeta: meta(morpho, 0, 0), ID: market, LLTV: big.NewInt(0)},
		domain.CreateVault{EventMeta: meta(morpho, 0, 1), Vault: vault},
		domain.Supply{EventMeta: meta(morpho, 10, 0), Market: market, OnBehalf: alice, Assets: big.NewInt(100), Shares: big.NewInt(100)},
		domain.Borrow{EventMeta: meta(morpho, 10, 1), Market: market, OnBehalf: alice, Assets: big.NewInt(25), Shares: big.NewInt(25)},
		domain.VaultDeposit{EventMeta: meta(vault, 20, 0), Owner: bob, Assets: big.NewInt(7), Shares: big.NewInt(7)},
	}
	for _, ev := range events {
		_, err := eng.Process(context.Background(), ev)
		require.NoError(t, err)
	}

	gen := NewGenerator(query.NewService(store, eng.Accumulator()), 0).WithClock(fixedClock)
	return gen, eng, store
}

func TestGenerate_AllPositions(t *testing.T) {
	gen, _, _ := setupTestData(t)

	r, err := gen.Generate(context.Background(), nil, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), r.AsOf)
	assert.Equal(t, fixedClock(), r.GeneratedAt)
	require.Len(t, r.Rows, 3)

	// ordered by entity then user then kind; the zero-padded market hash
	// sorts before the vault address
	assert.Equal(t, "borrow", r.Rows[0].Kind)
	assert.Equal(t, "500", r.Rows[0].Points) // 20s * 25
	assert.Equal(t, "supply", r.Rows[1].Kind)
	assert.Equal(t, "2000", r.Rows[1].Points) // 20s * 100
	assert.Equal(t, "vault", r.Rows[2].Kind)
	assert.Equal(t, "70", r.Rows[2].Points) // 10s * 7
	assert.Equal(t, "2570", r.TotalPoints)
}

func TestGenerate_UserAndLatest(t *testing.T) {
	gen, _, _ := setupTestData(t)

	r, err := gen.Generate(context.Background(), &bob, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), r.AsOf, "defaults to the checkpoint timestamp")
	assert.Equal(t, bob.Hex(), r.User)
	require.Len(t, r.Rows, 1)
	assert.Equal(t, "0", r.Rows[0].Points)
	assert.Equal(t, "7", r.Rows[0].Shares)
}

func TestScalePoints(t *testing.T) {
	tests := []struct {
		points   string
		decimals int32
		want     string
	}{
		{"2570", 0, "2570"},
		{"2570", 2, "25.7"},
		{"1", 18, "0.000000000000000001"},
		{"123456789012345678901234567890", 18, "123456789012.34567890123456789"},
	}
	for _, tt := range tests {
		p, ok := new(big.Int).SetString(tt.points, 10)
		require.True(t, ok)
		assert.Equal(t, tt.want, ScalePoints(p, tt.decimals))
	}
	assert.Equal(t, "0", ScalePoints(nil, 18))
}

func TestRenderCSV(t *testing.T) {
	gen, _, _ := setupTestData(t)
	r, err := gen.Generate(context.Background(), nil, 30)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(RenderCSV(r)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "entity,kind,user,shares,points,shards", lines[0])
	assert.Equal(t, vault.Hex()+",vault,"+bob.Hex()+",7,70,70", lines[3])
}

func TestRenderMarkdown(t *testing.T) {
	gen, eng, store := setupTestData(t)
	r, err := gen.Generate(context.Background(), nil, 30)
	require.NoError(t, err)
	r.Verification, err = verification.NewVerifier(store, eng.Accumulator()).Verify(context.Background())
	require.NoError(t, err)

	md := RenderMarkdown(r)
	assert.Contains(t, md, "# Points Report")
	assert.Contains(t, md, "Generated: 2024-01-01T00:00:00Z")
	assert.Contains(t, md, "| Total Points | 2570 |")
	assert.Contains(t, md, "| `"+market.Hex()+"` | supply | `"+alice.Hex()+"` | 100 | 2000 | 2000 |")
	assert.Contains(t, md, "**All checks passed.**")
}

func TestRenderMarkdown_Empty(t *testing.T) {
	md := RenderMarkdown(&Report{GeneratedAt: fixedClock()})
	assert.Contains(t, md, "No positions.")
	assert.NotContains(t, md, "## Verification")
}

func TestReport_JSON(t *testing.T) {
	gen, _, _ := setupTestData(t)
	r, err := gen.Generate(context.Background(), &alice, 30)
	require.NoError(t, err)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2500", decoded["total_points"])
	assert.Equal(t, alice.Hex(), decoded["user"])
}
