package ports

import (
	"context"

	"tradeSentinel/internal/domain"
)

// PositionRepository defines the interface for persisting trading positions.
// Create and Update are idempotent upserts keyed by position ID; callers may
// retry them safely.
type PositionRepository interface {
	// CreatePosition saves a new position.
	CreatePosition(ctx context.Context, pos *domain.Position) error
	// UpdatePosition modifies an existing position, inserting it if missing.
	UpdatePosition(ctx context.Context, pos *domain.Position) error
	// FindOpenPositions retrieves all positions currently in open status.
	FindOpenPositions(ctx context.Context) ([]*domain.Position, error)
	// UpdateHeartbeat records a liveness signal for the given machine.
	UpdateHeartbeat(ctx context.Context, machineID string) error
}
