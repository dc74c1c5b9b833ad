package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/service"
)

// fakeBus hands out one push channel per subscribed bus channel so tests can
// inject messages as if they came from Redis.
type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]chan []byte)}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	ch, ok := f.subs[channel]
	f.mu.Unlock()
	if ok {
		ch <- payload
	}
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 16)
	f.subs[channel] = ch
	return ch, nil
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// hubFixture spins up a hub on an httptest server and dials one client.
func hubFixture(t *testing.T) (*fakeBus, *websocket.Conn) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := newFakeBus()
	hub := NewHub(bus, testLogger(), Config{
		Mode:      "Full",
		StartedAt: time.Now().UTC().Add(-time.Minute),
	})
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Subscriptions race the dial; give the subscriber goroutines a beat.
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs) == len(defaultChannels)
	}, time.Second, 10*time.Millisecond)

	return bus, conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHubSendsStatusOnConnect(t *testing.T) {
	_, conn := hubFixture(t)

	msg := readJSON(t, conn)
	assert.Equal(t, "status", msg["type"])

	data := msg["data"].(map[string]any)
	assert.Equal(t, "full", data["mode"])
	assert.Equal(t, true, data["ws_connected"])
	assert.GreaterOrEqual(t, data["uptime_seconds"].(float64), float64(59))
}

func TestHubBroadcastsEnvelopedEvents(t *testing.T) {
	bus, conn := hubFixture(t)
	readJSON(t, conn) // drain the status message

	payload := []byte(`{"opp_id":"opp-1","pair":"INJ/USDT"}`)
	require.NoError(t, bus.Publish(context.Background(), service.ChannelOpportunity, payload))

	msg := readJSON(t, conn)
	assert.Equal(t, "event", msg["type"])
	assert.Equal(t, service.ChannelOpportunity, msg["channel"])
	assert.NotEmpty(t, msg["ts"])

	data := msg["data"].(map[string]any)
	assert.Equal(t, "opp-1", data["opp_id"])
	assert.Equal(t, "INJ/USDT", data["pair"])
}

func TestHubUnsubscribeFiltersChannel(t *testing.T) {
	bus, conn := hubFixture(t)
	readJSON(t, conn) // drain the status message

	err := conn.WriteJSON(map[string]any{
		"action":   "unsubscribe",
		"channels": []string{service.ChannelMarketUpdate},
	})
	require.NoError(t, err)

	// No ack is sent; wait for the subscription change to land.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), service.ChannelMarketUpdate, []byte(`{"pair":"x"}`)))
	require.NoError(t, bus.Publish(context.Background(), service.ChannelTrade, []byte(`{"trade_id":"t1"}`)))

	// Only the trade event should arrive.
	msg := readJSON(t, conn)
	assert.Equal(t, service.ChannelTrade, msg["channel"])
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"market*": true}}

	assert.True(t, c.isSubscribed("market_update"))
	assert.False(t, c.isSubscribed("trade_completed"))
}
