package ports

import (
	"context"

	"tradeSentinel/internal/domain"
)

// OrderPlacer defines the interface for placing orders on an exchange.
// This abstraction allows decoupling order execution from a specific exchange
// implementation.
type OrderPlacer interface {
	// PlaceMarketOrder places a market order and returns the exchange's order ID.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (string, error)
}
