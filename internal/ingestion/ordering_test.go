package ingestion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/domain"
)

func at(block, txIndex, logIndex uint64, ts int64) domain.Event {
	return domain.SetFeeRecipient{EventMeta: domain.EventMeta{
		BlockNumber: block, TxIndex: txIndex, LogIndex: logIndex, BlockTimestamp: ts,
	}}
}

func TestSortEvents(t *testing.T) {
	// Intentionally unordered events
	events := []domain.Event{
		at(200, 0, 0, 20),
		at(100, 1, 0, 10),
		at(100, 0, 3, 10),
		at(100, 0, 1, 10),
		at(300, 0, 0, 30),
	}

	SortEvents(events)

	expected := [][3]uint64{{100, 0, 1}, {100, 0, 3}, {100, 1, 0}, {200, 0, 0}, {300, 0, 0}}
	for i, exp := range expected {
		m := events[i].Meta()
		if m.BlockNumber != exp[0] || m.TxIndex != exp[1] || m.LogIndex != exp[2] {
			t.Errorf("Index %d: got (%d, %d, %d), want %v", i, m.BlockNumber, m.TxIndex, m.LogIndex, exp)
		}
	}
}

func TestSortEvents_Empty(t *testing.T) {
	var events []domain.Event
	SortEvents(events) // Should not panic
}

func TestValidateOrdering(t *testing.T) {
	tests := []struct {
		name    string
		events  []domain.Event
		wantErr bool
	}{
		{"valid", []domain.Event{at(1, 0, 0, 10), at(1, 0, 1, 10), at(2, 0, 0, 12)}, false},
		{"empty", nil, false},
		{"duplicate position", []domain.Event{at(1, 0, 0, 10), at(1, 0, 0, 10)}, true},
		{"backwards log index", []domain.Event{at(1, 0, 2, 10), at(1, 0, 1, 10)}, true},
		{"backwards tx index", []domain.Event{at(1, 3, 0, 10), at(1, 2, 9, 10)}, true},
		{"backwards block", []domain.Event{at(5, 0, 0, 10), at(4, 0, 0, 10)}, true},
		{"timestamp goes back", []domain.Event{at(1, 0, 0, 10), at(2, 0, 0, 9)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrdering(tt.events)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidOrdering))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderGuard_RejectedEventIsNotAccepted(t *testing.T) {
	var g OrderGuard
	assert.Nil(t, g.Last())

	require.NoError(t, g.Check(at(2, 0, 0, 10)))
	require.Error(t, g.Check(at(1, 0, 0, 10)))

	// last accepted position is unchanged by the rejection
	assert.Equal(t, uint64(2), g.Last().BlockNumber)
	require.NoError(t, g.Check(at(2, 0, 1, 10)))
}
