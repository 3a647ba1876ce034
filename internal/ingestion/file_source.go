package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"morpho-points/internal/domain"
	"morpho-points/internal/observability"
)

const maxRecordSize = 1 << 20

// FileSource reads JSON-lines records. Blank lines are skipped.
type FileSource struct {
	name    string
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
}

// OpenFile opens a JSON-lines file.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	s := NewReaderSource(path, f)
	s.closer = f
	return s, nil
}

// NewReaderSource reads JSON-lines records from r.
func NewReaderSource(name string, r io.Reader) *FileSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	return &FileSource{name: name, scanner: scanner}
}

// Next decodes the next record. A malformed record is an error carrying its
// line number; the source cannot skip it without breaking order guarantees.
func (s *FileSource) Next(ctx context.Context) (domain.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read %s: %w", s.name, err)
			}
			return nil, io.EOF
		}
		s.line++

		data := bytes.TrimSpace(s.scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		observability.RecordSourceMessage("file")
		ev, err := Decode(data)
		if err != nil {
			observability.RecordDecodeError("file")
			return nil, fmt.Errorf("%s:%d: %w", s.name, s.line, err)
		}
		return ev, nil
	}
}

// Close closes the underlying file, if any.
func (s *FileSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ReadAll drains src into a slice.
func ReadAll(ctx context.Context, src Source) ([]domain.Event, error) {
	var events []domain.Event
	for {
		ev, err := src.Next(ctx)
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
}
