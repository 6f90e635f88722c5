package domain

import "time"

// Balance represents a paper-trading balance ledger entry for one owner.
// Free decreases and Locked increases by entryPrice*quantity when a position
// opens; on exit the locked principal is released and Free is credited with
// principal plus realized P&L.
type Balance struct {
	OwnerID   string
	Asset     string  // e.g., "USDT"
	Free      float64 // Available funds
	Locked    float64 // Funds backing open positions
	Total     float64 // Free + Locked
	UpdatedAt time.Time
}
