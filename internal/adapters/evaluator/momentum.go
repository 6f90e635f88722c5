package evaluator

import (
	"context"
	"fmt"

	"tradeSentinel/internal/domain"
	"tradeSentinel/internal/ports"
)

// Momentum is a simple rule-based evaluator: it proposes a long entry when the
// last Lookback finalized candles on the configured interval close strictly
// higher each time. Stop-loss and take-profit are placed at fixed percentage
// offsets from the current price. It exists as the default wiring target for
// the Evaluator port; richer strategies implement the same interface.
type Momentum struct {
	logger ports.Logger

	symbol        string
	interval      string
	lookback      int
	quantity      float64
	stopLossPct   float64 // e.g. 0.02 places the stop 2% below entry
	takeProfitPct float64
}

// Config holds momentum evaluator parameters.
type Config struct {
	Logger        ports.Logger
	Symbol        string
	Interval      string
	Lookback      int
	Quantity      float64
	StopLossPct   float64
	TakeProfitPct float64
}

// New creates a momentum evaluator.
func New(cfg Config) (*Momentum, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for momentum evaluator")
	}
	if cfg.Symbol == "" || cfg.Interval == "" {
		return nil, fmt.Errorf("symbol and interval are required for momentum evaluator")
	}
	if cfg.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive for momentum evaluator")
	}
	lookback := cfg.Lookback
	if lookback < 2 {
		lookback = 3
	}
	return &Momentum{
		logger:        cfg.Logger,
		symbol:        cfg.Symbol,
		interval:      cfg.Interval,
		lookback:      lookback,
		quantity:      cfg.Quantity,
		stopLossPct:   cfg.StopLossPct,
		takeProfitPct: cfg.TakeProfitPct,
	}, nil
}

// Evaluate decides whether the strategy should enter based on the snapshot.
func (m *Momentum) Evaluate(ctx context.Context, strategyID string, snapshot *domain.Snapshot) (*domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", strategyID, err)
	}

	hold := &domain.Decision{Action: domain.ActionHold, Symbol: m.symbol}

	candles := snapshot.Candles[m.symbol][m.interval]
	finalized := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		if c.IsFinal {
			finalized = append(finalized, c)
		}
	}
	if len(finalized) < m.lookback {
		m.logger.Debug(ctx, "Not enough candles to evaluate", map[string]interface{}{
			"strategyID": strategyID,
			"have":       len(finalized),
			"need":       m.lookback,
		})
		return hold, nil
	}

	recent := finalized[len(finalized)-m.lookback:]
	for i := 1; i < len(recent); i++ {
		if recent[i].Close <= recent[i-1].Close {
			return hold, nil
		}
	}

	tick, ok := snapshot.Tickers[m.symbol]
	if !ok || tick.Price <= 0 {
		return hold, nil
	}

	price := tick.Price
	decision := &domain.Decision{
		Action:     domain.ActionEnter,
		Symbol:     m.symbol,
		Side:       domain.SideLong,
		Quantity:   m.quantity,
		Confidence: 100 * m.lookback / (m.lookback + 1),
		Reasoning:  fmt.Sprintf("%d consecutive rising %s closes", m.lookback, m.interval),
	}
	if m.stopLossPct > 0 {
		decision.StopLoss = price * (1 - m.stopLossPct)
	}
	if m.takeProfitPct > 0 {
		decision.TakeProfit = price * (1 + m.takeProfitPct)
	}

	m.logger.Info(ctx, "Entry signal generated", map[string]interface{}{
		"strategyID": strategyID,
		"symbol":     m.symbol,
		"price":      price,
		"stopLoss":   decision.StopLoss,
		"takeProfit": decision.TakeProfit,
	})
	return decision, nil
}
