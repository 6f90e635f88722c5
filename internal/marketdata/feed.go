package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"tradeSentinel/internal/domain"
	"tradeSentinel/internal/ports"
	"tradeSentinel/internal/timeseries"
)

const (
	defaultBaseURL = "wss://stream.binance.com:9443"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second // must be shorter than pongWait

	defaultEventBufferSize      = 256
	defaultReconnectDelay       = 1 * time.Second
	defaultMaxReconnectDelay    = 30 * time.Second
	defaultMaxReconnectAttempts = 10
)

// Feed maintains websocket connections to the exchange's combined streams and
// normalizes ticker and candle payloads into domain events. Each subscription
// group (one for all tickers, one per candle symbol) owns its connection and
// its own reconnect backoff; losing one group never disturbs the others.
// Candles land in the shared time-series cache; the latest tick per symbol is
// retained for snapshots.
//
// Event publication is lossy: when the buffered channel is full the event is
// dropped with a warning. Ticks and candles are re-derivable from the next
// message; position and order mutations never travel this channel.
type Feed struct {
	mu sync.Mutex

	logger ports.Logger
	cache  *timeseries.Cache

	baseURL              string
	reconnectDelay       time.Duration
	maxReconnectDelay    time.Duration
	maxReconnectAttempts int

	events  chan domain.FeedEvent
	tickers map[string]*domain.Tick
	groups  map[string]*connGroup

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// connGroup is one websocket connection worth of streams.
type connGroup struct {
	name      string
	streams   []string
	active    bool // goroutine running; false after terminal failure
	connected bool // connection currently established
}

// Config holds market data feed settings.
type Config struct {
	Logger               ports.Logger
	Cache                *timeseries.Cache
	BaseURL              string // defaults to the production stream endpoint
	EventBufferSize      int
	ReconnectDelay       time.Duration // backoff base
	MaxReconnectDelay    time.Duration // backoff cap
	MaxReconnectAttempts int
}

// New creates a market data feed. Connections are established per
// subscription group by SubscribeTickers and SubscribeCandles.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for market data feed")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required for market data feed")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	bufSize := cfg.EventBufferSize
	if bufSize <= 0 {
		bufSize = defaultEventBufferSize
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxReconnectDelay
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconnectAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		logger:               cfg.Logger,
		cache:                cfg.Cache,
		baseURL:              baseURL,
		reconnectDelay:       reconnectDelay,
		maxReconnectDelay:    maxDelay,
		maxReconnectAttempts: maxAttempts,
		events:               make(chan domain.FeedEvent, bufSize),
		tickers:              make(map[string]*domain.Tick),
		groups:               make(map[string]*connGroup),
		ctx:                  ctx,
		cancel:               cancel,
		running:              true,
	}, nil
}

// Events returns the feed's event channel. It is closed by Stop.
func (f *Feed) Events() <-chan domain.FeedEvent {
	return f.events
}

// SubscribeTickers opens one connection carrying the ticker stream for every
// given symbol. Calling it again after a terminal failure restarts the group.
func (f *Feed) SubscribeTickers(symbols []string) error {
	if len(symbols) == 0 {
		return ports.ErrNoSymbols
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@ticker")
	}
	return f.startGroup("tickers", streams)
}

// SubscribeCandles opens one connection carrying the kline streams for a
// symbol, one stream per interval. Calling it again after a terminal failure
// restarts the group.
func (f *Feed) SubscribeCandles(symbol string, intervals []string) error {
	if symbol == "" || len(intervals) == 0 {
		return ports.ErrNoSymbols
	}
	streams := make([]string, 0, len(intervals))
	for _, interval := range intervals {
		streams = append(streams, strings.ToLower(symbol)+"@kline_"+interval)
	}
	return f.startGroup("klines:"+symbol, streams)
}

func (f *Feed) startGroup(name string, streams []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return ports.ErrFeedNotRunning
	}
	if g, ok := f.groups[name]; ok && g.active {
		return fmt.Errorf("subscription group %q: %w", name, ports.ErrAlreadyRunning)
	}

	g := &connGroup{name: name, streams: streams, active: true}
	f.groups[name] = g

	f.wg.Add(1)
	go f.runGroup(g)

	f.logger.Info(f.ctx, "Subscription group started", map[string]interface{}{
		"group":   name,
		"streams": len(streams),
	})
	return nil
}

// IsConnected reports whether every subscription group currently holds an
// established connection.
func (f *Feed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.groups) == 0 {
		return false
	}
	for _, g := range f.groups {
		if !g.connected {
			return false
		}
	}
	return true
}

// Snapshot returns a point-in-time deep copy of the latest ticks and all
// cached candles.
func (f *Feed) Snapshot() *domain.Snapshot {
	f.mu.Lock()
	tickers := make(map[string]*domain.Tick, len(f.tickers))
	symbols := make([]string, 0, len(f.tickers))
	for symbol, tick := range f.tickers {
		cp := *tick
		tickers[symbol] = &cp
		symbols = append(symbols, symbol)
	}
	f.mu.Unlock()

	candles := make(map[string]map[string][]domain.Candle)
	for _, symbol := range f.cache.Symbols() {
		candles[symbol] = f.cache.GetAll(symbol)
	}

	return &domain.Snapshot{
		Tickers:   tickers,
		Candles:   candles,
		Symbols:   symbols,
		Timestamp: time.Now(),
	}
}

// Stop tears down all connections, waits for the group goroutines to exit and
// closes the event channel.
func (f *Feed) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()
	close(f.events)

	f.logger.Info(context.Background(), "Market data feed stopped")
	return nil
}

// runGroup owns one connection: dial, pump, reconnect with exponential
// backoff. Exceeding the attempt cap publishes a terminal error event and
// deactivates the group.
func (f *Feed) runGroup(g *connGroup) {
	defer f.wg.Done()

	b := &backoff.Backoff{
		Min:    f.reconnectDelay,
		Max:    f.maxReconnectDelay,
		Factor: 2,
		Jitter: true,
	}
	url := f.baseURL + "/stream?streams=" + strings.Join(g.streams, "/")

	attempts := 0
	for {
		if f.ctx.Err() != nil {
			f.setConnected(g, false)
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, url, nil)
		if err != nil {
			attempts++
			if attempts > f.maxReconnectAttempts {
				f.failGroup(g, fmt.Errorf("dial %s after %d attempts: %w",
					g.name, attempts-1, ports.ErrMaxReconnectAttempts))
				return
			}
			delay := b.Duration()
			f.logger.Warn(f.ctx, "Stream connection failed, retrying", map[string]interface{}{
				"group":   g.name,
				"attempt": attempts,
				"delay":   delay.String(),
			})
			if !f.sleep(delay) {
				return
			}
			continue
		}

		b.Reset()
		attempts = 0
		f.setConnected(g, true)
		f.logger.Info(f.ctx, "Stream connected", map[string]interface{}{"group": g.name})

		err = f.pump(g, conn)
		f.setConnected(g, false)
		if f.ctx.Err() != nil {
			return
		}
		f.logger.Warn(f.ctx, "Stream connection lost", map[string]interface{}{
			"group": g.name,
			"error": err.Error(),
		})
	}
}

// pump reads messages until the connection drops, keeping it alive with
// periodic pings and a pong-refreshed read deadline.
func (f *Feed) pump(g *connGroup, conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	// Close the connection when the feed stops so ReadMessage unblocks.
	go func() {
		select {
		case <-f.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Ping loop.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-f.ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(g, data)
	}
}

func (f *Feed) handleMessage(g *connGroup, data []byte) {
	var msg combinedStreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Warn(f.ctx, "Discarding unparseable stream message", map[string]interface{}{
			"group": g.name,
			"error": err.Error(),
		})
		return
	}

	switch {
	case strings.Contains(msg.Stream, "@ticker"):
		tick, err := parseTick(msg.Data)
		if err != nil {
			f.logger.Warn(f.ctx, "Discarding malformed ticker payload", map[string]interface{}{
				"group": g.name,
				"error": err.Error(),
			})
			return
		}
		f.mu.Lock()
		f.tickers[tick.Symbol] = tick
		f.mu.Unlock()
		f.publish(domain.FeedEvent{
			Type:      domain.EventTick,
			Symbol:    tick.Symbol,
			Tick:      tick,
			Timestamp: tick.Timestamp,
		})

	case strings.Contains(msg.Stream, "@kline"):
		candle, err := parseCandle(msg.Data)
		if err != nil {
			f.logger.Warn(f.ctx, "Discarding malformed kline payload", map[string]interface{}{
				"group": g.name,
				"error": err.Error(),
			})
			return
		}
		f.cache.Update(candle.Symbol, candle.Interval, *candle)
		f.publish(domain.FeedEvent{
			Type:      domain.EventCandle,
			Symbol:    candle.Symbol,
			Interval:  candle.Interval,
			Candle:    candle,
			Timestamp: candle.CloseTime,
		})

	default:
		f.logger.Debug(f.ctx, "Ignoring unknown stream", map[string]interface{}{"stream": msg.Stream})
	}
}

// publish is lossy: a full buffer drops the event with a warning rather than
// blocking the read pump.
func (f *Feed) publish(event domain.FeedEvent) {
	select {
	case f.events <- event:
	default:
		f.logger.Warn(f.ctx, "Event buffer full, dropping event", map[string]interface{}{
			"type":   event.Type,
			"symbol": event.Symbol,
		})
	}
}

// failGroup publishes a terminal error event and deactivates the group. The
// group stays down until resubscribed.
func (f *Feed) failGroup(g *connGroup, err error) {
	f.mu.Lock()
	g.active = false
	g.connected = false
	f.mu.Unlock()

	f.logger.Error(f.ctx, err, "Subscription group failed permanently", map[string]interface{}{
		"group": g.name,
	})

	// Terminal errors must reach the consumer; block until delivered or the
	// feed shuts down.
	select {
	case f.events <- domain.FeedEvent{
		Type:      domain.EventError,
		Group:     g.name,
		Err:       err,
		Timestamp: time.Now(),
	}:
	case <-f.ctx.Done():
	}
}

func (f *Feed) setConnected(g *connGroup, connected bool) {
	f.mu.Lock()
	g.connected = connected
	f.mu.Unlock()
}

// sleep waits for d, returning false when the feed is stopping.
func (f *Feed) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
