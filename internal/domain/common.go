package domain

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderSide represents the side of an exchange order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// EntryOrderSide maps a position side to the exchange order side that opens it.
func (s Side) EntryOrderSide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// ExitOrderSide maps a position side to the exchange order side that closes it.
func (s Side) ExitOrderSide() OrderSide {
	if s == SideShort {
		return Buy
	}
	return Sell
}

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// ExitReason indicates why a position was exited.
type ExitReason string

const (
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonManual     ExitReason = "manual"
	ExitReasonStrategy   ExitReason = "strategy"
)
