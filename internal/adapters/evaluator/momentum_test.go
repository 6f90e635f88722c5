package evaluator

import (
	"context"
	"testing"
	"time"

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

func newTestEvaluator(t *testing.T) *Momentum {
	t.Helper()
	m, err := New(Config{
		Logger:        &mockLogger{},
		Symbol:        "ETHUSDT",
		Interval:      "1m",
		Lookback:      3,
		Quantity:      1,
		StopLossPct:   0.02,
		TakeProfitPct: 0.04,
	})
	require.NoError(t, err)
	return m
}

func snapshotWithCloses(closes []float64, price float64) *domain.Snapshot {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, 0, len(closes))
	for i, c := range closes {
		candles = append(candles, domain.Candle{
			Symbol:   "ETHUSDT",
			Interval: "1m",
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Close:    c,
			IsFinal:  true,
		})
	}
	return &domain.Snapshot{
		Tickers: map[string]*domain.Tick{
			"ETHUSDT": {Symbol: "ETHUSDT", Price: price, Timestamp: time.Now()},
		},
		Candles: map[string]map[string][]domain.Candle{
			"ETHUSDT": {"1m": candles},
		},
		Symbols:   []string{"ETHUSDT"},
		Timestamp: time.Now(),
	}
}

func TestMomentum_EntersOnRisingCloses(t *testing.T) {
	m := newTestEvaluator(t)

	decision, err := m.Evaluate(context.Background(), "strat-1", snapshotWithCloses([]float64{100, 101, 102}, 102.5))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionEnter, decision.Action)
	assert.Equal(t, domain.SideLong, decision.Side)
	assert.Equal(t, 1.0, decision.Quantity)
	assert.InDelta(t, 102.5*0.98, decision.StopLoss, 1e-9)
	assert.InDelta(t, 102.5*1.04, decision.TakeProfit, 1e-9)
}

func TestMomentum_HoldsOnFlatOrFalling(t *testing.T) {
	m := newTestEvaluator(t)

	decision, err := m.Evaluate(context.Background(), "strat-1", snapshotWithCloses([]float64{100, 101, 100}, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, decision.Action)

	decision, err = m.Evaluate(context.Background(), "strat-1", snapshotWithCloses([]float64{100, 100, 100}, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, decision.Action)
}

func TestMomentum_HoldsWithoutEnoughCandles(t *testing.T) {
	m := newTestEvaluator(t)

	decision, err := m.Evaluate(context.Background(), "strat-1", snapshotWithCloses([]float64{100, 101}, 101))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, decision.Action)
}

func TestMomentum_IgnoresUnfinishedCandles(t *testing.T) {
	m := newTestEvaluator(t)

	snapshot := snapshotWithCloses([]float64{100, 101, 102}, 102.5)
	candles := snapshot.Candles["ETHUSDT"]["1m"]
	candles[2].IsFinal = false // only two finalized candles remain
	snapshot.Candles["ETHUSDT"]["1m"] = candles

	decision, err := m.Evaluate(context.Background(), "strat-1", snapshot)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, decision.Action)
}

func TestMomentum_HonorsCanceledContext(t *testing.T) {
	m := newTestEvaluator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Evaluate(ctx, "strat-1", snapshotWithCloses([]float64{100, 101, 102}, 102.5))
	assert.Error(t, err)
}
