package app

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/config"
	"morpho-points/internal/domain"
	"morpho-points/internal/logger"
)

func TestOpen_Memory(t *testing.T) {
	cfg := config.Default()
	b, err := Open(context.Background(), cfg, logger.ForTest())
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, config.BackendMemory, b.Name)
	assert.NotNil(t, b.Store)
	assert.Nil(t, b.Sink)
}

func TestOpen_LevelDBAndEngine(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendLevelDB
	cfg.Storage.LevelDBPath = filepath.Join(t.TempDir(), "state")
	cfg.Engine.MorphoAddress = "0x00000000000000000000000000000000000000f0"

	b, err := Open(ctx, cfg, logger.ForTest())
	require.NoError(t, err)
	defer b.Close()

	eng, err := NewEngine(cfg, b, logger.ForTest())
	require.NoError(t, err)

	market := common.HexToHash("0x0a")
	_, err = eng.Process(ctx, domain.CreateMarket{
		EventMeta: domain.EventMeta{Address: cfg.Morpho(), BlockNumber: 1, BlockTimestamp: 100},
		ID:        market,
		LLTV:      big.NewInt(0),
	})
	require.NoError(t, err)

	m, err := b.Store.GetMarket(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, int64(100), m.LastUpdate)
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "redis"
	_, err := Open(context.Background(), cfg, logger.ForTest())
	require.Error(t, err)
}

func TestNewEngine_BadEmission(t *testing.T) {
	cfg := config.Default()
	cfg.Accrual.Mode = "linear"
	_, err := NewEngine(cfg, &Backend{}, logger.ForTest())
	require.Error(t, err)
}
