package main

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/domain"
	"morpho-points/internal/engine"
	"morpho-points/internal/logger"
	"morpho-points/internal/query"
	"morpho-points/internal/reporting"
	"morpho-points/internal/storage"
	"morpho-points/internal/storage/memory"
)

var (
	morpho = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	market = common.HexToHash("0x0a")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type fixture struct {
	srv *server
	eng *engine.Engine
	ts  *httptest.Server
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newFixture(t).ts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	eng := engine.New(store, engine.Options{MorphoAddress: morpho})
	for _, ev := range []domain.Event{
		domain.CreateMarket{EventMeta: domain.EventMeta{Address: morpho, BlockNumber: 1, BlockTimestamp: 0}, ID: market, LLTV: big.NewInt(0)},
		domain.Supply{EventMeta: domain.EventMeta{Address: morpho, BlockNumber: 2, BlockTimestamp: 10}, Market: market, OnBehalf: alice, Assets: big.NewInt(100), Shares: big.NewInt(100)},
	} {
		_, err := eng.Process(context.Background(), ev)
		require.NoError(t, err)
	}

	svc := query.NewService(store, eng.Accumulator())
	srv := &server{
		store:   store,
		query:   svc,
		reports: reporting.NewGenerator(svc, 0),
		started: time.Now(),
		log:     logger.ForTest(),
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, eng: eng, ts: ts}
}

func supplyAt(block uint64, ts int64, shares int64) domain.Supply {
	return domain.Supply{
		EventMeta: domain.EventMeta{
			Address:        morpho,
			BlockNumber:    block,
			BlockTimestamp: ts,
			TxHash:         common.BigToHash(new(big.Int).SetUint64(block)),
		},
		Market:    market,
		OnBehalf:  alice,
		Assets:    big.NewInt(shares),
		Shares:    big.NewInt(shares),
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	var status StatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/status", &status))
	assert.True(t, status.CheckpointSeen)
	assert.Equal(t, uint64(2), status.LastBlock)
	assert.Equal(t, int64(10), status.LastTimestamp)
}

func TestUserPoints(t *testing.T) {
	ts := newTestServer(t)

	var body struct {
		Markets []struct {
			SupplyPoints *big.Int
		}
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/points/"+alice.Hex()+"?at=30", &body))
	require.Len(t, body.Markets, 1)
	assert.Equal(t, "2000", body.Markets[0].SupplyPoints.String()) // 20s * 100

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/points/not-an-address", &errBody))
	assert.Contains(t, errBody["error"], "invalid address")

	assert.Equal(t, http.StatusUnprocessableEntity, getJSON(t, ts.URL+"/points/"+alice.Hex()+"?at=5", &errBody))
}

type queryResult struct {
	status int
	body   []byte
	err    error
}

func fetch(url string, out chan<- queryResult) {
	resp, err := http.Get(url)
	if err != nil {
		out <- queryResult{err: err}
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	out <- queryResult{status: resp.StatusCode, body: body, err: err}
}

func TestUserPoints_WaitsForEventCommit(t *testing.T) {
	f := newFixture(t)

	// hold the write side as the runner does while applying an event
	f.srv.mu.Lock()
	done := make(chan queryResult, 1)
	go fetch(f.ts.URL+"/points/"+alice.Hex(), done)

	select {
	case <-done:
		f.srv.mu.Unlock()
		t.Fatal("query answered while an event was being applied")
	case <-time.After(50 * time.Millisecond):
	}
	_, err := f.eng.Process(context.Background(), supplyAt(3, 30, 50))
	f.srv.mu.Unlock()
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, http.StatusOK, res.status, string(res.body))

	var body struct {
		AsOf    int64
		Markets []struct {
			SupplyShares *big.Int
			SupplyPoints *big.Int
		}
	}
	require.NoError(t, json.Unmarshal(res.body, &body))
	assert.Equal(t, int64(30), body.AsOf)
	require.Len(t, body.Markets, 1)
	assert.Equal(t, "150", body.Markets[0].SupplyShares.String())
	assert.Equal(t, "2000", body.Markets[0].SupplyPoints.String())
}

func TestLockedProcessor_WaitsForReaders(t *testing.T) {
	f := newFixture(t)
	proc := lockedProcessor{mu: &f.srv.mu, proc: f.eng}

	f.srv.mu.RLock()
	done := make(chan error, 1)
	go func() {
		_, err := proc.Process(context.Background(), supplyAt(3, 30, 50))
		done <- err
	}()

	select {
	case <-done:
		f.srv.mu.RUnlock()
		t.Fatal("event applied while a query held the state")
	case <-time.After(50 * time.Millisecond):
	}
	f.srv.mu.RUnlock()
	require.NoError(t, <-done)

	var status StatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, f.ts.URL+"/status", &status))
	assert.Equal(t, uint64(3), status.LastBlock)
}

func TestReport(t *testing.T) {
	ts := newTestServer(t)

	var rep reporting.Report
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/report?at=20", &rep))
	assert.Equal(t, "1000", rep.TotalPoints)

	resp, err := http.Get(ts.URL + "/report?format=csv&at=20")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	buf := new(strings.Builder)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "entity,kind,user,shares,points,shards\n"))
}

func TestAfterCheckpoint(t *testing.T) {
	assert.Nil(t, afterCheckpoint(nil))
	got := afterCheckpoint(&storage.Checkpoint{BlockNumber: 7, TxIndex: 1, LogIndex: 2, Timestamp: 99})
	require.NotNil(t, got)
	assert.Equal(t, uint64(7), got.BlockNumber)
	assert.Equal(t, int64(99), got.BlockTimestamp)
}
