package domain

import "time"

// Signal is the strategy context an entry is executed against: which strategy
// decided to enter, for which owner and symbol, and at what risk levels.
type Signal struct {
	ID         string
	StrategyID string
	OwnerID    string
	Symbol     string
	Side       Side
	StopLoss   float64
	TakeProfit float64
	Confidence int // 0-100
	Reasoning  string
	CreatedAt  time.Time
}

// DecisionAction is the outcome of a strategy evaluation.
type DecisionAction string

const (
	ActionEnter DecisionAction = "enter"
	ActionHold  DecisionAction = "hold"
)

// Decision is the result returned by an evaluator for one strategy check.
type Decision struct {
	Action     DecisionAction
	Symbol     string
	Side       Side
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	Confidence int
	Reasoning  string
}
