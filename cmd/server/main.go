// Command server follows the live event feed over websocket, applies every
// event to the configured store and serves points queries, health and
// Prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"morpho-points/internal/app"
	"morpho-points/internal/domain"
	"morpho-points/internal/engine"
	"morpho-points/internal/ingestion"
	"morpho-points/internal/logger"
	"morpho-points/internal/observability"
	"morpho-points/internal/query"
	"morpho-points/internal/replay"
	"morpho-points/internal/reporting"
	"morpho-points/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := app.BindFlags(flag.CommandLine)
	feedFlag := flag.String("feed-url", "", "event feed websocket URL (or set EVENT_FEED_URL env var)")
	listenFlag := flag.String("listen-addr", "", "HTTP listen address (defaults to [server] listen_addr)")
	progressFlag := flag.Int("progress-every", 1000, "log progress every N applied events (0 disables)")
	flag.Parse()

	log := logger.New(flags.Verbose)

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if flag.CommandLine.Changed("feed-url") {
		cfg.Source.FeedURL = *feedFlag
	}
	if flag.CommandLine.Changed("listen-addr") {
		cfg.Server.ListenAddr = *listenFlag
	}
	if cfg.Source.FeedURL == "" {
		return fmt.Errorf("--feed-url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	eng, err := app.NewEngine(cfg, backend, log)
	if err != nil {
		return err
	}

	cp, err := replay.Checkpoint(ctx, backend.Store)
	if err != nil {
		return err
	}
	src, err := ingestion.DialWS(ctx, ingestion.DefaultWSConfig(cfg.Source.FeedURL), afterCheckpoint(cp), log)
	if err != nil {
		return err
	}
	defer src.Close()

	svc := query.NewService(backend.Store, eng.Accumulator())
	srv := &server{
		store:   backend.Store,
		query:   svc,
		reports: reporting.NewGenerator(svc, cfg.Report.PointsDecimals),
		started: time.Now(),
		log:     log,
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner := replay.NewRunner(src, lockedProcessor{mu: &srv.mu, proc: eng}, backend.Store, replay.Options{Logger: log, ProgressEvery: *progressFlag})
		stats, err := runner.Run(gctx)
		log.Info("runner stopped", "applied", stats.Applied, "rejected", stats.Rejected, "duration", stats.Duration)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil {
			return fmt.Errorf("event feed closed")
		}
		return err
	})
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		_ = src.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}

// afterCheckpoint converts the stored checkpoint into the feed resume cursor.
func afterCheckpoint(cp *storage.Checkpoint) *domain.EventMeta {
	if cp == nil {
		return nil
	}
	return &domain.EventMeta{
		BlockNumber:    cp.BlockNumber,
		TxIndex:        cp.TxIndex,
		LogIndex:       cp.LogIndex,
		BlockTimestamp: cp.Timestamp,
	}
}

// lockedProcessor applies events under the write side of mu, so HTTP reads
// never observe a half-read mix of two committed states.
type lockedProcessor struct {
	mu   *sync.RWMutex
	proc replay.Processor
}

func (p lockedProcessor) Process(ctx context.Context, ev domain.Event) (*engine.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc.Process(ctx, ev)
}

type server struct {
	// mu guards reads against the runner. Handlers hold the read side for
	// every store access of one request.
	mu sync.RWMutex

	store   storage.StateReader
	query   *query.Service
	reports *reporting.Generator
	started time.Time
	log     *slog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /points/{user}", s.handleUserPoints)
	mux.HandleFunc("GET /report", s.handleReport)

	return mux
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	LastBlock      uint64 `json:"last_block"`
	LastTxIndex    uint64 `json:"last_tx_index"`
	LastLogIndex   uint64 `json:"last_log_index"`
	LastTimestamp  int64  `json:"last_timestamp"`
	CheckpointSeen bool   `json:"checkpoint_seen"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	s.mu.RLock()
	cp, err := replay.Checkpoint(r.Context(), s.store)
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cp != nil {
		resp.CheckpointSeen = true
		resp.LastBlock = cp.BlockNumber
		resp.LastTxIndex = cp.TxIndex
		resp.LastLogIndex = cp.LogIndex
		resp.LastTimestamp = cp.Timestamp
	}
	s.writeJSON(w, resp)
}

// handleUserPoints serves GET /points/{user}?at=<unix seconds>.
func (s *server) handleUserPoints(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("user")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", raw))
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, err := s.asOf(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	up, err := s.query.UserPoints(r.Context(), common.HexToAddress(raw), at)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, up)
}

// handleReport serves GET /report?user=<address>&at=<unix seconds>.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	var user *common.Address
	if raw := r.URL.Query().Get("user"); raw != "" {
		if !common.IsHexAddress(raw) {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", raw))
			return
		}
		addr := common.HexToAddress(raw)
		user = &addr
	}
	var at int64
	if raw := r.URL.Query().Get("at"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid at: %w", err))
			return
		}
		at = v
	}
	s.mu.RLock()
	rep, err := s.reports.Generate(r.Context(), user, at)
	s.mu.RUnlock()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(reporting.RenderCSV(rep)))
		return
	}
	s.writeJSON(w, rep)
}

// asOf reads the optional "at" query parameter, defaulting to the last
// applied event timestamp.
func (s *server) asOf(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return s.query.LatestTimestamp(r.Context())
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid at: %w", err)
	}
	return v, nil
}

func (s *server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
