package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradeSentinel/internal/domain"
	"tradeSentinel/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.PositionRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trade_sentinel.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %v: %w", dbPath, err, ports.ErrDBConnection)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL DEFAULT 0,
		current_price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		pnl_percent REAL NOT NULL DEFAULT 0,
		order_id TEXT NOT NULL DEFAULT '',
		exit_reason TEXT NOT NULL DEFAULT '',
		is_paper_trade INTEGER NOT NULL DEFAULT 0,
		entered_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS heartbeats (
		machine_id TEXT PRIMARY KEY,
		last_seen TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_positions_owner ON positions (owner_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

const upsertPositionQuery = `
	INSERT INTO positions (id, strategy_id, owner_id, symbol, side, status,
	                       entry_price, exit_price, current_price, quantity,
	                       stop_loss, take_profit, unrealized_pnl, realized_pnl,
	                       pnl_percent, order_id, exit_reason, is_paper_trade,
	                       entered_at, updated_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		exit_price = excluded.exit_price,
		current_price = excluded.current_price,
		stop_loss = excluded.stop_loss,
		take_profit = excluded.take_profit,
		unrealized_pnl = excluded.unrealized_pnl,
		realized_pnl = excluded.realized_pnl,
		pnl_percent = excluded.pnl_percent,
		order_id = excluded.order_id,
		exit_reason = excluded.exit_reason,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at`

// upsert writes the full position row keyed by its ID. Both create and update
// go through the same statement so retries are always safe.
func (r *Repository) upsert(ctx context.Context, pos *domain.Position) error {
	var closedAt sql.NullTime
	if pos.ClosedAt != nil {
		closedAt = sql.NullTime{Time: *pos.ClosedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, upsertPositionQuery,
		pos.ID, pos.StrategyID, pos.OwnerID, pos.Symbol, pos.Side, pos.Status,
		pos.EntryPrice, pos.ExitPrice, pos.CurrentPrice, pos.Quantity,
		pos.StopLoss, pos.TakeProfit, pos.UnrealizedPnL, pos.RealizedPnL,
		pos.PnLPercent, pos.OrderID, pos.ExitReason, pos.IsPaperTrade,
		pos.EnteredAt, pos.UpdatedAt, closedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %v: %w", pos.ID, err, ports.ErrUpdateFailed)
	}
	return nil
}

// CreatePosition saves a new position.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.Position) error {
	if err := r.upsert(ctx, pos); err != nil {
		return err
	}
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol})
	return nil
}

// UpdatePosition modifies an existing position, inserting it if missing.
func (r *Repository) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	if err := r.upsert(ctx, pos); err != nil {
		return err
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "status": pos.Status})
	return nil
}

// FindOpenPositions retrieves all positions currently in open status, ordered
// by entry time ascending.
func (r *Repository) FindOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, strategy_id, owner_id, symbol, side, status,
	       entry_price, exit_price, current_price, quantity,
	       stop_loss, take_profit, unrealized_pnl, realized_pnl,
	       pnl_percent, order_id, exit_reason, is_paper_trade,
	       entered_at, updated_at, closed_at
	FROM positions
	WHERE status = ?
	ORDER BY entered_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %v: %w", err, ports.ErrQueryFailed)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpenPositions: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// UpdateHeartbeat records a liveness signal for the given machine.
func (r *Repository) UpdateHeartbeat(ctx context.Context, machineID string) error {
	const query = `
	INSERT INTO heartbeats (machine_id, last_seen)
	VALUES (?, ?)
	ON CONFLICT(machine_id) DO UPDATE SET last_seen = excluded.last_seen`

	if _, err := r.db.ExecContext(ctx, query, machineID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update heartbeat for machine %s: %w", machineID, err)
	}
	return nil
}

// LastHeartbeat returns the last recorded liveness signal for a machine.
func (r *Repository) LastHeartbeat(ctx context.Context, machineID string) (time.Time, error) {
	const query = `SELECT last_seen FROM heartbeats WHERE machine_id = ?`

	var lastSeen time.Time
	err := r.db.QueryRowContext(ctx, query, machineID).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("heartbeat for machine %s: %w", machineID, ports.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query heartbeat for machine %s: %w", machineID, err)
	}
	return lastSeen, nil
}

// scanner abstracts sql.Row and sql.Rows for scanPosition.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	var pos domain.Position
	var closedAt sql.NullTime

	err := s.Scan(
		&pos.ID, &pos.StrategyID, &pos.OwnerID, &pos.Symbol, &pos.Side, &pos.Status,
		&pos.EntryPrice, &pos.ExitPrice, &pos.CurrentPrice, &pos.Quantity,
		&pos.StopLoss, &pos.TakeProfit, &pos.UnrealizedPnL, &pos.RealizedPnL,
		&pos.PnLPercent, &pos.OrderID, &pos.ExitReason, &pos.IsPaperTrade,
		&pos.EnteredAt, &pos.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		pos.ClosedAt = &t
	}
	return &pos, nil
}
