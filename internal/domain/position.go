package domain

import "time"

// Position represents an active or closed trading position.
type Position struct {
	ID            string         // Unique identifier (UUID)
	StrategyID    string         // Owning strategy
	OwnerID       string         // Account the position belongs to
	Symbol        string         // Trading symbol (e.g., "ETHUSDT")
	Side          Side           // LONG or SHORT
	Status        PositionStatus // open or closed
	EntryPrice    float64        // Price at which the position was entered
	ExitPrice     float64        // Price at which the position was exited (0 if open)
	CurrentPrice  float64        // Most recent price seen for the symbol
	Quantity      float64        // Size of the position
	StopLoss      float64        // Stop-loss price level (0 disables)
	TakeProfit    float64        // Take-profit price level (0 disables)
	UnrealizedPnL float64        // P&L at the current price while open
	RealizedPnL   float64        // Final P&L, set on close
	PnLPercent    float64        // P&L as a percentage of the entry price
	OrderID       string         // Exchange order ID (live trading only)
	ExitReason    ExitReason     // Why the position was closed
	IsPaperTrade  bool           // Simulated execution
	EnteredAt     time.Time      // When the position was opened
	UpdatedAt     time.Time      // Last mutation time
	ClosedAt      *time.Time     // When the position was closed (nil while open)
}

// IsOpen reports whether the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// PnL computes profit/loss for a position of the given side.
// Long: (current - entry) * qty. Short: (entry - current) * qty.
func PnL(entryPrice, currentPrice, quantity float64, side Side) float64 {
	if side == SideShort {
		return (entryPrice - currentPrice) * quantity
	}
	return (currentPrice - entryPrice) * quantity
}

// PnLPercent computes profit/loss as a percentage of the entry price.
func PnLPercent(entryPrice, currentPrice float64, side Side) float64 {
	if entryPrice == 0 {
		return 0
	}
	if side == SideShort {
		return (entryPrice - currentPrice) / entryPrice * 100
	}
	return (currentPrice - entryPrice) / entryPrice * 100
}

// StopLossHit reports whether price violates the stop-loss level.
// A zero stop loss never triggers.
func StopLossHit(price, stopLoss float64, side Side) bool {
	if stopLoss == 0 {
		return false
	}
	if side == SideShort {
		return price >= stopLoss
	}
	return price <= stopLoss
}

// TakeProfitHit reports whether price violates the take-profit level.
// A zero take profit never triggers.
func TakeProfitHit(price, takeProfit float64, side Side) bool {
	if takeProfit == 0 {
		return false
	}
	if side == SideShort {
		return price <= takeProfit
	}
	return price >= takeProfit
}
