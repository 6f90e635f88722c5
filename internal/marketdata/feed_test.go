package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeSentinel/internal/domain"
	"tradeSentinel/internal/ports"
	"tradeSentinel/internal/timeseries"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// startStreamServer runs a websocket server that sends each message once a
// client connects, then holds the connection open.
func startStreamServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitForEvent(t *testing.T, events <-chan domain.FeedEvent, want domain.FeedEventType) domain.FeedEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type == want {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestFeed_PublishesTicksAndCandles(t *testing.T) {
	tickMsg := `{"stream":"ethusdt@ticker","data":{"e":"24hrTicker","E":1756500000123,"s":"ETHUSDT","c":"2450.55"}}`
	candleMsg := `{"stream":"ethusdt@kline_1m","data":{"e":"kline","E":1756500000456,"s":"ETHUSDT","k":{"t":1756499940000,"T":1756499999999,"s":"ETHUSDT","i":"1m","o":"2448.00","c":"2450.55","h":"2451.20","l":"2447.10","v":"321.7","x":true}}}`
	server := startStreamServer(t, []string{tickMsg, candleMsg})

	cache := timeseries.New(100)
	feed, err := New(Config{
		Logger:  &mockLogger{},
		Cache:   cache,
		BaseURL: wsURL(server),
	})
	require.NoError(t, err)
	defer feed.Stop()

	require.NoError(t, feed.SubscribeTickers([]string{"ETHUSDT"}))

	tickEvent := waitForEvent(t, feed.Events(), domain.EventTick)
	require.NotNil(t, tickEvent.Tick)
	assert.Equal(t, "ETHUSDT", tickEvent.Tick.Symbol)
	assert.Equal(t, 2450.55, tickEvent.Tick.Price)

	candleEvent := waitForEvent(t, feed.Events(), domain.EventCandle)
	require.NotNil(t, candleEvent.Candle)
	assert.Equal(t, "1m", candleEvent.Interval)

	// The candle landed in the shared cache.
	latest, ok := cache.Latest("ETHUSDT", "1m")
	require.True(t, ok)
	assert.Equal(t, 2450.55, latest.Close)

	assert.True(t, feed.IsConnected())

	snapshot := feed.Snapshot()
	require.Contains(t, snapshot.Tickers, "ETHUSDT")
	assert.Equal(t, 2450.55, snapshot.Tickers["ETHUSDT"].Price)
	require.Contains(t, snapshot.Candles, "ETHUSDT")
	assert.Len(t, snapshot.Candles["ETHUSDT"]["1m"], 1)
}

func TestFeed_SnapshotIsDeepCopy(t *testing.T) {
	tickMsg := `{"stream":"ethusdt@ticker","data":{"e":"24hrTicker","E":1756500000123,"s":"ETHUSDT","c":"2450.55"}}`
	server := startStreamServer(t, []string{tickMsg})

	feed, err := New(Config{
		Logger:  &mockLogger{},
		Cache:   timeseries.New(100),
		BaseURL: wsURL(server),
	})
	require.NoError(t, err)
	defer feed.Stop()

	require.NoError(t, feed.SubscribeTickers([]string{"ETHUSDT"}))
	waitForEvent(t, feed.Events(), domain.EventTick)

	snapshot := feed.Snapshot()
	snapshot.Tickers["ETHUSDT"].Price = 1

	again := feed.Snapshot()
	assert.Equal(t, 2450.55, again.Tickers["ETHUSDT"].Price)
}

func TestFeed_TerminalErrorAfterMaxAttempts(t *testing.T) {
	feed, err := New(Config{
		Logger:               &mockLogger{},
		Cache:                timeseries.New(100),
		BaseURL:              "ws://127.0.0.1:1", // nothing listens here
		ReconnectDelay:       time.Millisecond,
		MaxReconnectDelay:    5 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	require.NoError(t, err)
	defer feed.Stop()

	require.NoError(t, feed.SubscribeTickers([]string{"ETHUSDT"}))

	event := waitForEvent(t, feed.Events(), domain.EventError)
	assert.Equal(t, "tickers", event.Group)
	assert.ErrorIs(t, event.Err, ports.ErrMaxReconnectAttempts)
	assert.False(t, feed.IsConnected())

	// The failed group can be resubscribed.
	require.NoError(t, feed.SubscribeTickers([]string{"ETHUSDT"}))
	waitForEvent(t, feed.Events(), domain.EventError)
}

func TestFeed_SubscribeValidation(t *testing.T) {
	feed, err := New(Config{
		Logger: &mockLogger{},
		Cache:  timeseries.New(100),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, feed.SubscribeTickers(nil), ports.ErrNoSymbols)
	assert.ErrorIs(t, feed.SubscribeCandles("", []string{"1m"}), ports.ErrNoSymbols)
	assert.ErrorIs(t, feed.SubscribeCandles("ETHUSDT", nil), ports.ErrNoSymbols)

	require.NoError(t, feed.Stop())
	assert.ErrorIs(t, feed.SubscribeTickers([]string{"ETHUSDT"}), ports.ErrFeedNotRunning)
}
