package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeSentinel/internal/domain"
	"tradeSentinel/internal/ports"
)

const defaultReconcileInterval = 15 * time.Second

// Monitor owns the live set of open positions. Every price tick for a symbol
// recomputes the unrealized P&L of the positions on that symbol and performs
// edge-triggered stop-loss/take-profit detection: an exit fires only when the
// new price crosses the threshold and the previous price had not already
// crossed it. A periodic reconciliation loop re-persists every live position
// so durable records never go stale, and prunes entries that have been closed
// elsewhere.
//
// The monitor is the only writer of CurrentPrice, UnrealizedPnL and PnLPercent
// for live positions. It never writes Status; closing a position is the order
// executor's job, reached through the ExitHandler.
type Monitor struct {
	mu sync.RWMutex

	logger  ports.Logger
	repo    ports.PositionRepository
	handler ports.ExitHandler

	positions    map[string]*domain.Position // positionID -> position
	pendingExits map[string]bool             // positionID -> exit in flight

	reconcileInterval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Config holds monitor dependencies.
type Config struct {
	Logger            ports.Logger
	Repository        ports.PositionRepository
	Handler           ports.ExitHandler
	ReconcileInterval time.Duration
}

// New creates a position monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for position monitor")
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository is required for position monitor")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("exit handler is required for position monitor")
	}
	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &Monitor{
		logger:            cfg.Logger,
		repo:              cfg.Repository,
		handler:           cfg.Handler,
		positions:         make(map[string]*domain.Position),
		pendingExits:      make(map[string]bool),
		reconcileInterval: interval,
	}, nil
}

// Start launches the reconciliation loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ports.ErrAlreadyRunning
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.reconcileLoop()

	m.logger.Info(m.ctx, "Position monitor started")
	return nil
}

// Stop cancels the reconciliation loop and blocks until it and any in-flight
// exit callbacks have completed.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.logger.Info(context.Background(), "Position monitor stopped")
	return nil
}

// AddPosition adds a position to the live set.
func (m *Monitor) AddPosition(position *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[position.ID] = position

	m.logger.Info(context.Background(), "Position added to monitor", map[string]interface{}{
		"positionID": position.ID,
		"symbol":     position.Symbol,
		"side":       position.Side,
		"entryPrice": position.EntryPrice,
		"stopLoss":   position.StopLoss,
		"takeProfit": position.TakeProfit,
	})
}

// RemovePosition removes a position from the live set.
func (m *Monitor) RemovePosition(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.positions, positionID)
	delete(m.pendingExits, positionID)

	m.logger.Info(context.Background(), "Position removed from monitor", map[string]interface{}{
		"positionID": positionID,
	})
}

// UpdatePrice applies a new price to every open position on the symbol,
// recomputing unrealized P&L and checking stop-loss/take-profit crossings.
// Exit callbacks run asynchronously and never block this call.
func (m *Monitor) UpdatePrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, position := range m.positions {
		if position.Symbol != symbol || position.Status != domain.StatusOpen {
			continue
		}

		oldPrice := position.CurrentPrice
		position.CurrentPrice = price
		position.UnrealizedPnL = domain.PnL(position.EntryPrice, price, position.Quantity, position.Side)
		position.PnLPercent = domain.PnLPercent(position.EntryPrice, price, position.Side)
		position.UpdatedAt = time.Now()

		m.checkTriggers(position, oldPrice, price)
	}
}

// OpenPositions returns copies of all positions in the live set.
func (m *Monitor) OpenPositions() []*domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make([]*domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		posCopy := *pos
		positions = append(positions, &posCopy)
	}
	return positions
}

// PositionsBySymbol returns copies of the live positions on a symbol.
func (m *Monitor) PositionsBySymbol(symbol string) []*domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make([]*domain.Position, 0)
	for _, pos := range m.positions {
		if pos.Symbol == symbol {
			posCopy := *pos
			positions = append(positions, &posCopy)
		}
	}
	return positions
}

// Position returns a copy of the position with the given id.
func (m *Monitor) Position(positionID string) (*domain.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return nil, false
	}
	posCopy := *pos
	return &posCopy, true
}

// PositionCount returns the number of positions in the live set.
func (m *Monitor) PositionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.positions)
}

// TotalUnrealizedPnL sums the unrealized P&L of every live position.
func (m *Monitor) TotalUnrealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0.0
	for _, position := range m.positions {
		total += position.UnrealizedPnL
	}
	return total
}

// checkTriggers performs edge-triggered stop-loss/take-profit detection.
// Callers hold m.mu.
func (m *Monitor) checkTriggers(position *domain.Position, oldPrice, newPrice float64) {
	if m.pendingExits[position.ID] {
		return
	}

	if domain.StopLossHit(newPrice, position.StopLoss, position.Side) {
		if !domain.StopLossHit(oldPrice, position.StopLoss, position.Side) {
			m.logger.Warn(context.Background(), "Stop loss triggered", map[string]interface{}{
				"positionID": position.ID,
				"price":      newPrice,
				"stopLoss":   position.StopLoss,
			})
			m.triggerExit(position, domain.ExitReasonStopLoss, newPrice)
		}
		return
	}

	if domain.TakeProfitHit(newPrice, position.TakeProfit, position.Side) {
		if !domain.TakeProfitHit(oldPrice, position.TakeProfit, position.Side) {
			m.logger.Info(context.Background(), "Take profit triggered", map[string]interface{}{
				"positionID": position.ID,
				"price":      newPrice,
				"takeProfit": position.TakeProfit,
			})
			m.triggerExit(position, domain.ExitReasonTakeProfit, newPrice)
		}
		return
	}
}

// triggerExit invokes the exit handler asynchronously for a first-time
// crossing. The position stays in the live set until the handler confirms the
// exit; on handler failure the pending flag clears so a later crossing can
// retry. Callers hold m.mu.
func (m *Monitor) triggerExit(position *domain.Position, reason domain.ExitReason, price float64) {
	m.pendingExits[position.ID] = true
	posCopy := *position

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if err := m.handler.OnExit(ctx, &posCopy, reason, price); err != nil {
			m.logger.Error(ctx, err, "Exit callback failed", map[string]interface{}{
				"positionID": posCopy.ID,
				"reason":     reason,
			})
			m.mu.Lock()
			delete(m.pendingExits, posCopy.ID)
			m.mu.Unlock()
			return
		}
		m.RemovePosition(posCopy.ID)
	}()
}

// reconcileLoop periodically re-persists every live position so durable
// records track in-memory P&L even without price changes, and prunes
// positions closed by other means.
func (m *Monitor) reconcileLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reconcile()
		}
	}
}

func (m *Monitor) reconcile() {
	positions := m.OpenPositions()
	if len(positions) == 0 {
		return
	}

	m.logger.Debug(m.ctx, "Reconciling positions", map[string]interface{}{"count": len(positions)})

	for _, position := range positions {
		if position.Status != domain.StatusOpen {
			// Closed elsewhere; prune from the live set. Status itself is
			// owned by the executor and is not written here.
			m.RemovePosition(position.ID)
			continue
		}

		if err := m.repo.UpdatePosition(m.ctx, position); err != nil {
			// Logged and retried on the next cycle.
			m.logger.Error(m.ctx, err, "Failed to persist position during reconciliation", map[string]interface{}{
				"positionID": position.ID,
			})
		}
	}
}
