package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morpho-points/internal/retry"
)

// feedServer serves VaultTransfer records at blocks 1..n. The first
// connection is dropped after dropAfter records; later connections replay
// everything from block 1 so the source must drop what it already delivered.
type feedServer struct {
	n         int
	dropAfter int

	mu   sync.Mutex
	subs []subscribeRequest
}

func record(block int) string {
	return pad(fmt.Sprintf(`{"kind":"VaultTransfer","block_number":%d,"block_timestamp":%d,"params":{"from":"0x01","to":"0x02","value":"1"}}`, block, block*10))
}

func (f *feedServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.mu.Lock()
		f.subs = append(f.subs, req)
		first := len(f.subs) == 1
		f.mu.Unlock()

		for block := 1; block <= f.n; block++ {
			if first && f.dropAfter > 0 && block > f.dropAfter {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(record(block))); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func (f *feedServer) subscriptions() []subscribeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscribeRequest(nil), f.subs...)
}

func testWSConfig(url string) WSConfig {
	cfg := DefaultWSConfig("ws" + strings.TrimPrefix(url, "http"))
	cfg.Retry = retry.Config{MaxAttempts: 5, BaseBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	cfg.ReadTimeout = 5 * time.Second
	return cfg
}

func TestWSSource_Streams(t *testing.T) {
	feed := &feedServer{n: 3}
	server := httptest.NewServer(feed.handler(t))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := DialWS(ctx, testWSConfig(server.URL), nil, nil)
	require.NoError(t, err)
	defer src.Close()

	for want := uint64(1); want <= 3; want++ {
		ev, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, ev.Meta().BlockNumber)
	}

	subs := feed.subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "subscribe", subs[0].Type)
	assert.Nil(t, subs[0].After)
}

func TestWSSource_ReconnectResumesWithoutDuplicates(t *testing.T) {
	feed := &feedServer{n: 5, dropAfter: 2}
	server := httptest.NewServer(feed.handler(t))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src, err := DialWS(ctx, testWSConfig(server.URL), nil, nil)
	require.NoError(t, err)
	defer src.Close()

	var blocks []uint64
	for len(blocks) < 5 {
		ev, err := src.Next(ctx)
		require.NoError(t, err)
		blocks = append(blocks, ev.Meta().BlockNumber)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, blocks)

	subs := feed.subscriptions()
	require.GreaterOrEqual(t, len(subs), 2)
	require.NotNil(t, subs[1].After)
	assert.Equal(t, uint64(2), subs[1].After.BlockNumber)
}

func TestWSSource_ResumeCursorSentOnDial(t *testing.T) {
	feed := &feedServer{n: 1}
	server := httptest.NewServer(feed.handler(t))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	after := at(7, 1, 2, 70).Meta()
	src, err := DialWS(ctx, testWSConfig(server.URL), &after, nil)
	require.NoError(t, err)
	defer src.Close()

	require.Eventually(t, func() bool { return len(feed.subscriptions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	raw, err := json.Marshal(feed.subscriptions()[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","after":{"block_number":7,"tx_index":1,"log_index":2}}`, string(raw))
}

func TestWSSource_DecodeErrorIsDelivered(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"Unknown"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := DialWS(ctx, testWSConfig(server.URL), nil, nil)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDialWS_RequiresURL(t *testing.T) {
	_, err := DialWS(context.Background(), WSConfig{}, nil, nil)
	assert.Error(t, err)
}
