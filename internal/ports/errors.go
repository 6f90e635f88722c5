package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Engine lifecycle errors
	ErrEngineNotRunning = errors.New("engine not running")
	ErrAlreadyRunning   = errors.New("already running")
	ErrNotScheduled     = errors.New("strategy not scheduled")

	// Market data errors
	ErrConnectionFailed     = errors.New("failed to connect to market data stream")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
	ErrNoSymbols            = errors.New("no symbols provided")
	ErrFeedNotRunning       = errors.New("market data feed not running")

	// Trading errors
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrRateLimited          = errors.New("API rate limit exceeded")

	// Evaluation errors
	ErrEvaluationTimeout = errors.New("strategy evaluation timed out")

	// Database errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// PositionError wraps an error with the position and operation it occurred in.
type PositionError struct {
	PositionID string
	Op         string
	Err        error
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position %s: %s: %v", e.PositionID, e.Op, e.Err)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// NewPositionError creates a new position-scoped error.
func NewPositionError(positionID, op string, err error) *PositionError {
	return &PositionError{PositionID: positionID, Op: op, Err: err}
}
