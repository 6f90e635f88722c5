package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeSentinel/internal/domain"
	"tradeSentinel/internal/ports"
)

const defaultAsset = "USDT"

// Executor turns entry and exit requests into filled positions. In paper mode
// fills are simulated against a per-owner balance ledger at the caller's
// price; in live mode market orders go to the exchange through the
// ports.OrderPlacer. Every position mutation is persisted synchronously, so a
// crash after an entry or exit never loses the durable record.
//
// The executor is the only writer of position Status.
type Executor struct {
	mu sync.Mutex

	logger ports.Logger
	repo   ports.PositionRepository
	orders ports.OrderPlacer // nil in paper mode

	paperTrading   bool
	initialBalance float64
	asset          string
	balances       map[string]*domain.Balance // ownerID -> ledger

	running bool
}

// Config holds executor dependencies.
type Config struct {
	Logger         ports.Logger
	Repository     ports.PositionRepository
	OrderPlacer    ports.OrderPlacer // required unless PaperTrading
	PaperTrading   bool
	InitialBalance float64 // paper ledger starting funds per owner
	Asset          string  // quote asset of the ledger, defaults to USDT
}

// New creates an order executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for order executor")
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository is required for order executor")
	}
	if !cfg.PaperTrading && cfg.OrderPlacer == nil {
		return nil, fmt.Errorf("order placer is required for live trading")
	}
	if cfg.PaperTrading && cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive for paper trading")
	}
	asset := cfg.Asset
	if asset == "" {
		asset = defaultAsset
	}
	return &Executor{
		logger:         cfg.Logger,
		repo:           cfg.Repository,
		orders:         cfg.OrderPlacer,
		paperTrading:   cfg.PaperTrading,
		initialBalance: cfg.InitialBalance,
		asset:          asset,
		balances:       make(map[string]*domain.Balance),
	}, nil
}

// Start marks the executor as accepting orders.
func (e *Executor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ports.ErrAlreadyRunning
	}
	e.running = true

	mode := "live"
	if e.paperTrading {
		mode = "paper"
	}
	e.logger.Info(context.Background(), "Order executor started", map[string]interface{}{"mode": mode})
	return nil
}

// Stop marks the executor as rejecting new orders.
func (e *Executor) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	e.logger.Info(context.Background(), "Order executor stopped")
	return nil
}

// ExecuteEntry opens a position for a strategy signal at the current market
// price. Paper fills debit the owner's free balance by price*quantity and lock
// it; live fills place a market order first and record the exchange order ID.
// The opened position is persisted before it is returned. A failed entry
// leaves the ledger unchanged.
func (e *Executor) ExecuteEntry(ctx context.Context, signal *domain.Signal, quantity, currentPrice float64) (*domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil, ports.ErrEngineNotRunning
	}
	if signal == nil || signal.Symbol == "" || quantity <= 0 || currentPrice <= 0 {
		return nil, fmt.Errorf("entry signal: %w", ports.ErrInvalidRequest)
	}

	now := time.Now()
	position := &domain.Position{
		ID:           uuid.NewString(),
		StrategyID:   signal.StrategyID,
		OwnerID:      signal.OwnerID,
		Symbol:       signal.Symbol,
		Side:         signal.Side,
		Status:       domain.StatusOpen,
		EntryPrice:   currentPrice,
		CurrentPrice: currentPrice,
		Quantity:     quantity,
		StopLoss:     signal.StopLoss,
		TakeProfit:   signal.TakeProfit,
		IsPaperTrade: e.paperTrading,
		EnteredAt:    now,
		UpdatedAt:    now,
	}

	if e.paperTrading {
		balance := e.ledger(signal.OwnerID)
		cost := currentPrice * quantity
		if balance.Free < cost {
			return nil, ports.NewPositionError(position.ID, "entry", fmt.Errorf(
				"need %.8f %s, have %.8f: %w", cost, e.asset, balance.Free, ports.ErrInsufficientBalance))
		}
		balance.Free -= cost
		balance.Locked += cost
		balance.UpdatedAt = now

		if err := e.repo.CreatePosition(ctx, position); err != nil {
			// Roll back the ledger so a persistence failure costs nothing.
			balance.Free += cost
			balance.Locked -= cost
			return nil, ports.NewPositionError(position.ID, "entry", err)
		}
	} else {
		orderID, err := e.orders.PlaceMarketOrder(ctx, signal.Symbol, signal.Side.EntryOrderSide(), quantity)
		if err != nil {
			return nil, ports.NewPositionError(position.ID, "entry",
				fmt.Errorf("%w: %v", ports.ErrOrderPlacementFailed, err))
		}
		position.OrderID = orderID

		if err := e.repo.CreatePosition(ctx, position); err != nil {
			// The exchange order already filled; keep monitoring the position
			// and let reconciliation persist it later.
			e.logger.Error(ctx, err, "Failed to persist entry, position is live in memory only", map[string]interface{}{
				"positionID": position.ID,
				"orderID":    orderID,
			})
		}
	}

	e.logger.Info(ctx, "Position opened", map[string]interface{}{
		"positionID": position.ID,
		"symbol":     position.Symbol,
		"side":       position.Side,
		"quantity":   position.Quantity,
		"entryPrice": position.EntryPrice,
		"paperTrade": position.IsPaperTrade,
	})
	return position, nil
}

// ExecuteExit closes a position at the given price, realizing its P&L. Paper
// exits release the locked principal and credit the free balance with
// principal plus realized P&L. The closed position is persisted before the
// call returns.
func (e *Executor) ExecuteExit(ctx context.Context, position *domain.Position, reason domain.ExitReason, price float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ports.ErrEngineNotRunning
	}
	if position.Status != domain.StatusOpen {
		return ports.NewPositionError(position.ID, "exit",
			fmt.Errorf("position already closed: %w", ports.ErrInvalidRequest))
	}

	if !e.paperTrading {
		orderID, err := e.orders.PlaceMarketOrder(ctx, position.Symbol, position.Side.ExitOrderSide(), position.Quantity)
		if err != nil {
			return ports.NewPositionError(position.ID, "exit",
				fmt.Errorf("%w: %v", ports.ErrOrderPlacementFailed, err))
		}
		e.logger.Debug(ctx, "Exit order filled", map[string]interface{}{
			"positionID": position.ID,
			"orderID":    orderID,
		})
	}

	now := time.Now()
	closed := *position
	closed.Status = domain.StatusClosed
	closed.ExitPrice = price
	closed.CurrentPrice = price
	closed.ExitReason = reason
	closed.RealizedPnL = domain.PnL(closed.EntryPrice, price, closed.Quantity, closed.Side)
	closed.PnLPercent = domain.PnLPercent(closed.EntryPrice, price, closed.Side)
	closed.UnrealizedPnL = 0
	closed.UpdatedAt = now
	closed.ClosedAt = &now

	if e.paperTrading {
		balance := e.ledger(closed.OwnerID)
		principal := closed.EntryPrice * closed.Quantity
		balance.Locked -= principal
		if balance.Locked < 0 {
			balance.Locked = 0
		}
		balance.Free += principal + closed.RealizedPnL
		balance.UpdatedAt = now
	}

	if err := e.repo.UpdatePosition(ctx, &closed); err != nil {
		return ports.NewPositionError(closed.ID, "exit", err)
	}

	e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID":  closed.ID,
		"symbol":      closed.Symbol,
		"reason":      reason,
		"exitPrice":   price,
		"realizedPnL": closed.RealizedPnL,
		"pnlPercent":  closed.PnLPercent,
	})
	return nil
}

// IsPaperTrading reports whether fills are simulated.
func (e *Executor) IsPaperTrading() bool {
	return e.paperTrading
}

// Balance returns a copy of the owner's paper ledger, creating it with the
// configured initial funds on first use. The second return is false in live
// mode, where balances live on the exchange.
func (e *Executor) Balance(ownerID string) (domain.Balance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.paperTrading {
		return domain.Balance{}, false
	}
	balance := e.ledger(ownerID)
	cp := *balance
	cp.Total = cp.Free + cp.Locked
	return cp, true
}

// ledger returns the owner's mutable balance, creating it lazily. Callers
// hold e.mu.
func (e *Executor) ledger(ownerID string) *domain.Balance {
	balance, ok := e.balances[ownerID]
	if !ok {
		balance = &domain.Balance{
			OwnerID:   ownerID,
			Asset:     e.asset,
			Free:      e.initialBalance,
			UpdatedAt: time.Now(),
		}
		e.balances[ownerID] = balance
	}
	return balance
}
