package ingestion

import (
	"errors"
	"fmt"
	"sort"

	"morpho-points/internal/domain"
)

// ErrInvalidOrdering is returned when events are not in chain order.
var ErrInvalidOrdering = errors.New("events are not in chain order")

// SortEvents orders events by (block ASC, tx index ASC, log index ASC).
func SortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareMeta(events[i].Meta(), events[j].Meta()) < 0
	})
}

// ValidateOrdering checks that events are strictly increasing in chain order.
func ValidateOrdering(events []domain.Event) error {
	var g OrderGuard
	for _, ev := range events {
		if err := g.Check(ev); err != nil {
			return err
		}
	}
	return nil
}

// compareMeta returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (block ASC, tx_index ASC, log_index ASC)
func compareMeta(a, b domain.EventMeta) int {
	switch {
	case a.BlockNumber != b.BlockNumber:
		return cmpUint(a.BlockNumber, b.BlockNumber)
	case a.TxIndex != b.TxIndex:
		return cmpUint(a.TxIndex, b.TxIndex)
	default:
		return cmpUint(a.LogIndex, b.LogIndex)
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// OrderGuard rejects an event that does not come strictly after the previous
// one, or whose timestamp goes backwards. The zero value accepts any first event.
type OrderGuard struct {
	last *domain.EventMeta
}

// Check validates ev against the last accepted event and accepts it on success.
func (g *OrderGuard) Check(ev domain.Event) error {
	meta := ev.Meta()
	if g.last != nil {
		if compareMeta(*g.last, meta) >= 0 {
			return fmt.Errorf("%w: %s at (%d, %d, %d) after (%d, %d, %d)", ErrInvalidOrdering, ev.Kind(),
				meta.BlockNumber, meta.TxIndex, meta.LogIndex,
				g.last.BlockNumber, g.last.TxIndex, g.last.LogIndex)
		}
		if meta.BlockTimestamp < g.last.BlockTimestamp {
			return fmt.Errorf("%w: %s timestamp %d before %d", ErrInvalidOrdering, ev.Kind(),
				meta.BlockTimestamp, g.last.BlockTimestamp)
		}
	}
	g.last = &meta
	return nil
}

// Last returns the last accepted event position, or nil.
func (g *OrderGuard) Last() *domain.EventMeta {
	return g.last
}
