package ports

import (
	"context"

	"tradeSentinel/internal/domain"
)

// Evaluator decides whether a strategy should act on the current market state.
// Implementations must honor ctx cancellation; the engine bounds every call
// with a timeout and treats an expired context as a failed evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, strategyID string, snapshot *domain.Snapshot) (*domain.Decision, error)
}

// FireHandler is invoked by the scheduler each time a strategy's timer fires.
type FireHandler interface {
	OnFire(ctx context.Context, strategyID string) error
}

// ExitHandler is invoked by the position monitor when a stop-loss or
// take-profit level is first crossed. The position stays in the live set until
// OnExit returns nil.
type ExitHandler interface {
	OnExit(ctx context.Context, position *domain.Position, reason domain.ExitReason, price float64) error
}
