package ingestion

import (
	"context"
	"io"

	"morpho-points/internal/domain"
)

// Source yields decoded events in chain order.
type Source interface {
	// Next blocks until the next event is available. Returns io.EOF when a
	// finite source is exhausted.
	Next(ctx context.Context) (domain.Event, error)

	// Close releases the source.
	Close() error
}

// SliceSource serves a fixed batch of events after sorting them.
type SliceSource struct {
	events []domain.Event
	pos    int
}

// NewSliceSource returns a source over a copy of events in chain order.
func NewSliceSource(events []domain.Event) *SliceSource {
	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	SortEvents(sorted)
	return &SliceSource{events: sorted}
}

// LoadSorted drains src into a SliceSource in chain order. Two events at the
// same position, or a timestamp going backwards once sorted, is an error.
func LoadSorted(ctx context.Context, src Source) (*SliceSource, error) {
	events, err := ReadAll(ctx, src)
	if err != nil {
		return nil, err
	}
	out := NewSliceSource(events)
	if err := ValidateOrdering(out.events); err != nil {
		return nil, err
	}
	return out, nil
}

// Next returns the next event or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// Close is a no-op.
func (s *SliceSource) Close() error { return nil }
