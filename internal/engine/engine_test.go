package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeSentinel/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockRepo stores positions in memory.
type mockRepo struct {
	mu         sync.Mutex
	positions  map[string]*domain.Position
	heartbeats int
}

func newMockRepo() *mockRepo {
	return &mockRepo{positions: make(map[string]*domain.Position)}
}

func (r *mockRepo) CreatePosition(ctx context.Context, pos *domain.Position) error {
	return r.UpdatePosition(ctx, pos)
}

func (r *mockRepo) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pos
	r.positions[pos.ID] = &cp
	return nil
}

func (r *mockRepo) FindOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	open := make([]*domain.Position, 0)
	for _, pos := range r.positions {
		if pos.Status == domain.StatusOpen {
			cp := *pos
			open = append(open, &cp)
		}
	}
	return open, nil
}

func (r *mockRepo) UpdateHeartbeat(ctx context.Context, machineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return nil
}

func (r *mockRepo) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

// mockEvaluator proposes the configured decision; with fireOnce set it holds
// after the first enter decision so repeated checks cannot stack entries.
type mockEvaluator struct {
	mu       sync.Mutex
	decision *domain.Decision
	fireOnce bool
	fired    bool
}

func (e *mockEvaluator) Evaluate(ctx context.Context, strategyID string, snapshot *domain.Snapshot) (*domain.Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fireOnce && e.fired {
		return &domain.Decision{Action: domain.ActionHold}, nil
	}
	if len(snapshot.Tickers) == 0 {
		// No market data yet; a real evaluator would hold too.
		return &domain.Decision{Action: domain.ActionHold}, nil
	}
	if e.decision.Action == domain.ActionEnter {
		e.fired = true
	}
	return e.decision, nil
}

// startTickServer streams the current value of price for ETHUSDT every 20ms.
func startTickServer(t *testing.T, price *atomic.Int64) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			msg := fmt.Sprintf(
				`{"stream":"ethusdt@ticker","data":{"e":"24hrTicker","E":%d,"s":"ETHUSDT","c":"%d.00"}}`,
				time.Now().UnixMilli(), price.Load())
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEngine_EntryAndStopLossExit(t *testing.T) {
	var price atomic.Int64
	price.Store(100)
	server := startTickServer(t, &price)

	repo := newMockRepo()
	eval := &mockEvaluator{
		fireOnce: true,
		decision: &domain.Decision{
			Action:     domain.ActionEnter,
			Symbol:     "ETHUSDT",
			Side:       domain.SideLong,
			Quantity:   1,
			StopLoss:   95,
			TakeProfit: 0,
		},
	}

	eng, err := New(Config{
		Logger:            &mockLogger{},
		Repository:        repo,
		Evaluator:         eval,
		PaperTrading:      true,
		InitialBalance:    10000,
		OwnerID:           "owner-1",
		Symbols:           []string{"ETHUSDT"},
		Intervals:         []string{"1m"},
		Quantity:          1,
		FeedBaseURL:       "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconcileInterval: time.Hour,
		HeartbeatInterval: 25 * time.Millisecond,
		MachineID:         "test-machine",
	})
	require.NoError(t, err)

	require.NoError(t, eng.Start())
	defer eng.Stop()

	require.NoError(t, eng.RegisterStrategy("strat-1", time.Hour))
	assert.Equal(t, []string{"strat-1"}, eng.Status().ScheduledStrategies)

	// The first checks may run before a price has arrived; keep triggering
	// until the entry lands.
	require.Eventually(t, func() bool {
		eng.TriggerCheck("strat-1")
		return eng.Status().OpenPositions == 1
	}, 5*time.Second, 50*time.Millisecond, "entry never executed")

	balance, ok := eng.Balance()
	require.True(t, ok)
	assert.InDelta(t, 9900.0, balance.Free, 1e-9) // 100 locked at entry

	// Unregister so no second entry races the exit check below.
	require.NoError(t, eng.UnregisterStrategy("strat-1"))

	// Drop the price through the stop: the monitor must close the position.
	price.Store(94)
	require.Eventually(t, func() bool {
		return eng.Status().OpenPositions == 0
	}, 5*time.Second, 50*time.Millisecond, "stop loss never closed the position")

	balance, _ = eng.Balance()
	assert.InDelta(t, 9994.0, balance.Free, 1e-9) // entered 100, exited 94, qty 1
	assert.InDelta(t, 0.0, balance.Locked, 1e-9)

	// The closed position was persisted.
	open, err := repo.FindOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)

	// Heartbeats run independently of trading activity.
	require.Eventually(t, func() bool { return repo.heartbeatCount() >= 2 },
		2*time.Second, 20*time.Millisecond)
}

func TestEngine_ReloadsOpenPositionsOnStart(t *testing.T) {
	var price atomic.Int64
	price.Store(100)
	server := startTickServer(t, &price)

	repo := newMockRepo()
	stored := &domain.Position{
		ID:           "restored-1",
		StrategyID:   "strat-1",
		OwnerID:      "owner-1",
		Symbol:       "ETHUSDT",
		Side:         domain.SideLong,
		Status:       domain.StatusOpen,
		EntryPrice:   100,
		CurrentPrice: 100,
		Quantity:     1,
		StopLoss:     95,
		IsPaperTrade: true,
		EnteredAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, repo.CreatePosition(context.Background(), stored))

	eng, err := New(Config{
		Logger:            &mockLogger{},
		Repository:        repo,
		Evaluator:         &mockEvaluator{decision: &domain.Decision{Action: domain.ActionHold}},
		PaperTrading:      true,
		InitialBalance:    10000,
		OwnerID:           "owner-1",
		Symbols:           []string{"ETHUSDT"},
		Intervals:         []string{"1m"},
		Quantity:          1,
		FeedBaseURL:       "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconcileInterval: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, eng.Start())
	defer eng.Stop()

	// The stored position is under monitoring again without any new entry.
	assert.Equal(t, 1, eng.Status().OpenPositions)
}
