package ingestion

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/domain"
)

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := strings.Join([]string{
		`{"kind":"SetFeeRecipient","block_number":1,"log_index":0,"params":{"newFeeRecipient":"0xfe"}}`,
		``,
		`   `,
		`{"kind":"VaultTransfer","block_number":2,"log_index":5,"params":{"from":"0x01","to":"0x02","value":"3"}}`,
	}, "\n")
	content = pad(content)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	events, err := ReadAll(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.KindSetFeeRecipient, events[0].Kind())
	assert.Equal(t, domain.KindVaultTransfer, events[1].Kind())

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestFileSource_DecodeErrorHasLine(t *testing.T) {
	src := NewReaderSource("feed", strings.NewReader("\n{\"kind\":\"Nope\"}\n"))
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), "feed:2")
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestLoadSorted(t *testing.T) {
	ctx := context.Background()

	src, err := LoadSorted(ctx, NewSliceSource([]domain.Event{at(5, 0, 1, 5), at(2, 1, 0, 2), at(2, 0, 7, 2)}))
	require.NoError(t, err)
	events, err := ReadAll(ctx, src)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(7), events[0].Meta().LogIndex)
	assert.Equal(t, uint64(5), events[2].Meta().BlockNumber)

	_, err = LoadSorted(ctx, NewSliceSource([]domain.Event{at(2, 0, 1, 2), at(2, 0, 1, 2)}))
	assert.ErrorIs(t, err, ErrInvalidOrdering)

	_, err = LoadSorted(ctx, NewSliceSource([]domain.Event{at(3, 0, 0, 10), at(4, 0, 0, 9)}))
	assert.ErrorIs(t, err, ErrInvalidOrdering)
}

func TestSliceSource_Sorts(t *testing.T) {
	src := NewSliceSource([]domain.Event{at(3, 0, 0, 3), at(1, 0, 0, 1)})
	events, err := ReadAll(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Meta().BlockNumber)
	assert.NoError(t, ValidateOrdering(events))
}
