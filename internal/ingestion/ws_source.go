package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"morpho-points/internal/domain"
	"morpho-points/internal/logger"
	"morpho-points/internal/observability"
	"morpho-points/internal/retry"
)

// WSConfig configures the websocket event feed.
type WSConfig struct {
	URL string

	// Retry governs the initial dial and every reconnect.
	Retry retry.Config
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is extended on every message and pong.
	ReadTimeout time.Duration
	// WriteTimeout bounds control and subscribe writes.
	WriteTimeout time.Duration
	// Buffer is the number of decoded events held ahead of the consumer.
	Buffer int
}

// DefaultWSConfig returns the default feed configuration for url.
func DefaultWSConfig(url string) WSConfig {
	r := retry.DefaultConfig()
	r.MaxAttempts = 0
	return WSConfig{
		URL:          url,
		Retry:        r,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		Buffer:       1024,
	}
}

// cursor is the feed position of an event.
type cursor struct {
	BlockNumber uint64 `json:"block_number"`
	TxIndex     uint64 `json:"tx_index"`
	LogIndex    uint64 `json:"log_index"`
}

// subscribeRequest asks the feed for events strictly after After.
type subscribeRequest struct {
	Type  string  `json:"type"`
	After *cursor `json:"after,omitempty"`
}

type wsItem struct {
	ev  domain.Event
	err error
}

// WSSource reads one JSON record per text message from a websocket feed.
// On connection loss it redials and resubscribes after the last delivered
// event; replayed events at or before that point are dropped.
type WSSource struct {
	cfg WSConfig
	log *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	after *domain.EventMeta // last delivered, owned by readLoop

	items  chan wsItem
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// DialWS connects to the feed and subscribes to events after the given
// position (nil for the beginning).
func DialWS(ctx context.Context, cfg WSConfig, after *domain.EventMeta, log *slog.Logger) (*WSSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("feed url required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1
	}
	if log == nil {
		log = logger.Discard()
	}

	srcCtx, cancel := context.WithCancel(context.Background())
	s := &WSSource{
		cfg:    cfg,
		log:    log.With("source", "ws", "url", cfg.URL),
		after:  after,
		items:  make(chan wsItem, cfg.Buffer),
		ctx:    srcCtx,
		cancel: cancel,
	}

	if err := s.connect(ctx); err != nil {
		cancel()
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// connect dials with retry and sends the subscribe request.
func (s *WSSource) connect(ctx context.Context) error {
	rc := s.cfg.Retry
	rc.OnRetry = func(attempt int, err error, wait time.Duration) {
		observability.RecordSourceReconnect("ws")
		s.log.Warn("feed dial failed", "attempt", attempt, "error", err, "retry_in", wait)
	}

	return retry.Do(ctx, rc, func() error {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			return fmt.Errorf("websocket dial: %w", err)
		}

		req := subscribeRequest{Type: "subscribe"}
		if s.after != nil {
			req.After = &cursor{BlockNumber: s.after.BlockNumber, TxIndex: s.after.TxIndex, LogIndex: s.after.LogIndex}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteJSON(req); err != nil {
			conn.Close()
			return fmt.Errorf("write subscribe: %w", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		return nil
	})
}

// readLoop decodes messages and redials on connection loss.
func (s *WSSource) readLoop() {
	defer s.wg.Done()
	defer close(s.items)

	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn("feed connection lost", "error", err)
			conn.Close()
			if err := s.connect(s.ctx); err != nil {
				s.deliver(wsItem{err: fmt.Errorf("reconnect feed: %w", err)})
				return
			}
			s.log.Info("feed reconnected")
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		observability.RecordSourceMessage("ws")

		ev, err := Decode(message)
		if err != nil {
			observability.RecordDecodeError("ws")
			s.deliver(wsItem{err: err})
			return
		}

		meta := ev.Meta()
		if s.after != nil && compareMeta(meta, *s.after) <= 0 {
			continue
		}
		if !s.deliver(wsItem{ev: ev}) {
			return
		}
		s.after = &meta
	}
}

// deliver hands an item to the consumer. Returns false once closed.
func (s *WSSource) deliver(it wsItem) bool {
	select {
	case s.items <- it:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// pingLoop keeps the connection alive.
func (s *WSSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			s.connMu.Unlock()
			if err != nil {
				s.log.Debug("ping failed", "error", err)
			}
		}
	}
}

// Next blocks until the next event, a terminal feed error, or ctx is done.
func (s *WSSource) Next(ctx context.Context) (domain.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case it, ok := <-s.items:
		if !ok {
			return nil, errors.New("feed closed")
		}
		return it.ev, it.err
	}
}

// Close stops the source and waits for its goroutines.
func (s *WSSource) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.conn.Close()
		}
		s.connMu.Unlock()
		s.wg.Wait()
	})
	return nil
}
