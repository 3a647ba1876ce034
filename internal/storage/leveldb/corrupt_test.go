package leveldb

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/storage"
)

func TestStore_CorruptRecord(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	id := common.HexToHash("0x0a")
	require.NoError(t, s.db.Put([]byte(prefixMarket+id.Hex()), []byte("{not json"), nil))

	_, err = s.GetMarket(context.Background(), id)
	assert.ErrorIs(t, err, storage.ErrCorruptRecord)

	_, err = s.ListMarkets(context.Background())
	assert.ErrorIs(t, err, storage.ErrCorruptRecord)
}
