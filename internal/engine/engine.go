package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeSentinel/internal/domain"
	"tradeSentinel/internal/executor"
	"tradeSentinel/internal/marketdata"
	"tradeSentinel/internal/monitor"
	"tradeSentinel/internal/ports"
	"tradeSentinel/internal/scheduler"
	"tradeSentinel/internal/timeseries"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultEvaluationTimeout = 10 * time.Second
	heartbeatWriteTimeout    = 5 * time.Second
	shutdownTimeout          = 10 * time.Second
)

// Engine wires the market data feed, scheduler, position monitor and order
// executor together. It is the scheduler's FireHandler (timer fired -> evaluate
// -> maybe enter) and the monitor's ExitHandler (threshold crossed -> exit).
// On start it reloads open positions from storage so monitoring resumes across
// restarts, and it runs an independent heartbeat loop recording liveness.
type Engine struct {
	mu sync.Mutex

	logger    ports.Logger
	repo      ports.PositionRepository
	evaluator ports.Evaluator

	feed      *marketdata.Feed
	cache     *timeseries.Cache
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	executor  *executor.Executor

	ownerID   string
	symbols   []string
	intervals []string
	quantity  float64

	evaluationTimeout time.Duration
	heartbeatInterval time.Duration
	machineID         string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Config holds engine dependencies and settings.
type Config struct {
	Logger      ports.Logger
	Repository  ports.PositionRepository
	Evaluator   ports.Evaluator
	OrderPlacer ports.OrderPlacer // nil in paper mode

	PaperTrading   bool
	InitialBalance float64
	OwnerID        string

	Symbols   []string
	Intervals []string
	Quantity  float64

	FeedBaseURL          string
	EventBufferSize      int
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int

	CacheMaxLen       int
	ReconcileInterval time.Duration
	EvaluationTimeout time.Duration
	HeartbeatInterval time.Duration
	MachineID         string
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running             bool
	FeedConnected       bool
	OpenPositions       int
	TotalUnrealizedPnL  float64
	ScheduledStrategies []string
	CacheStats          timeseries.Stats
}

// New creates the engine and all the components it owns.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for engine")
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository is required for engine")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required for engine")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("engine: %w", ports.ErrNoSymbols)
	}
	if cfg.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", ports.ErrConfigurationError)
	}

	evalTimeout := cfg.EvaluationTimeout
	if evalTimeout <= 0 {
		evalTimeout = defaultEvaluationTimeout
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	e := &Engine{
		logger:            cfg.Logger,
		repo:              cfg.Repository,
		evaluator:         cfg.Evaluator,
		ownerID:           cfg.OwnerID,
		symbols:           cfg.Symbols,
		intervals:         cfg.Intervals,
		quantity:          cfg.Quantity,
		evaluationTimeout: evalTimeout,
		heartbeatInterval: heartbeat,
		machineID:         cfg.MachineID,
	}

	e.cache = timeseries.New(cfg.CacheMaxLen)

	feed, err := marketdata.New(marketdata.Config{
		Logger:               cfg.Logger,
		Cache:                e.cache,
		BaseURL:              cfg.FeedBaseURL,
		EventBufferSize:      cfg.EventBufferSize,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create market data feed: %w", err)
	}
	e.feed = feed

	sched, err := scheduler.New(scheduler.Config{Logger: cfg.Logger, Handler: e})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	e.scheduler = sched

	mon, err := monitor.New(monitor.Config{
		Logger:            cfg.Logger,
		Repository:        cfg.Repository,
		Handler:           e,
		ReconcileInterval: cfg.ReconcileInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create position monitor: %w", err)
	}
	e.monitor = mon

	exec, err := executor.New(executor.Config{
		Logger:         cfg.Logger,
		Repository:     cfg.Repository,
		OrderPlacer:    cfg.OrderPlacer,
		PaperTrading:   cfg.PaperTrading,
		InitialBalance: cfg.InitialBalance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order executor: %w", err)
	}
	e.executor = exec

	return e, nil
}

// Start brings up every component, reloads open positions into the monitor
// and subscribes the market data streams.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ports.ErrAlreadyRunning
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if err := e.executor.Start(); err != nil {
		return fmt.Errorf("failed to start order executor: %w", err)
	}
	if err := e.monitor.Start(); err != nil {
		return fmt.Errorf("failed to start position monitor: %w", err)
	}
	if err := e.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if err := e.reloadPositions(e.ctx); err != nil {
		// Monitoring resumes without the stored set; reconciliation keeps the
		// rest of the system consistent.
		e.logger.Error(e.ctx, err, "Failed to reload open positions from storage")
	}

	if err := e.feed.SubscribeTickers(e.symbols); err != nil {
		return fmt.Errorf("failed to subscribe tickers: %w", err)
	}
	for _, symbol := range e.symbols {
		if err := e.feed.SubscribeCandles(symbol, e.intervals); err != nil {
			return fmt.Errorf("failed to subscribe candles for %s: %w", symbol, err)
		}
	}

	e.wg.Add(2)
	go e.eventPump()
	go e.heartbeatLoop()

	e.running = true
	e.logger.Info(e.ctx, "Engine started", map[string]interface{}{
		"symbols":   e.symbols,
		"intervals": e.intervals,
		"paper":     e.executor.IsPaperTrading(),
	})
	return nil
}

// Stop shuts components down in reverse start order: feed first so no new
// events arrive, then scheduler, monitor and executor. It returns once all
// workers have exited or the shutdown timeout elapses.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.feed.Stop() // closes the event channel, ending the pump
	e.cancel()

	if err := e.scheduler.Stop(); err != nil {
		e.logger.Error(context.Background(), err, "Failed to stop scheduler")
	}
	if err := e.monitor.Stop(); err != nil {
		e.logger.Error(context.Background(), err, "Failed to stop position monitor")
	}
	if err := e.executor.Stop(); err != nil {
		e.logger.Error(context.Background(), err, "Failed to stop order executor")
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		e.logger.Warn(context.Background(), "Timed out waiting for engine workers to exit")
	}

	e.logger.Info(context.Background(), "Engine stopped")
	return nil
}

// RegisterStrategy arms a repeating evaluation for the strategy.
func (e *Engine) RegisterStrategy(strategyID string, interval time.Duration) error {
	return e.scheduler.Schedule(strategyID, interval)
}

// UnregisterStrategy stops evaluating the strategy.
func (e *Engine) UnregisterStrategy(strategyID string) error {
	return e.scheduler.Unschedule(strategyID)
}

// TriggerCheck fires a strategy evaluation immediately.
func (e *Engine) TriggerCheck(strategyID string) error {
	return e.scheduler.TriggerNow(strategyID)
}

// Status reports a point-in-time view of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	return Status{
		Running:             running,
		FeedConnected:       e.feed.IsConnected(),
		OpenPositions:       e.monitor.PositionCount(),
		TotalUnrealizedPnL:  e.monitor.TotalUnrealizedPnL(),
		ScheduledStrategies: e.scheduler.Scheduled(),
		CacheStats:          e.cache.Stats(),
	}
}

// Balance returns the paper ledger for the configured owner.
func (e *Engine) Balance() (domain.Balance, bool) {
	return e.executor.Balance(e.ownerID)
}

// OnFire implements ports.FireHandler: evaluate the strategy against a market
// snapshot and execute the entry if it decides to act.
func (e *Engine) OnFire(ctx context.Context, strategyID string) error {
	snapshot := e.feed.Snapshot()

	evalCtx, cancel := context.WithTimeout(ctx, e.evaluationTimeout)
	defer cancel()

	decision, err := e.evaluator.Evaluate(evalCtx, strategyID, snapshot)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("strategy %s: %w", strategyID, ports.ErrEvaluationTimeout)
		}
		return fmt.Errorf("strategy %s evaluation failed: %w", strategyID, err)
	}
	if decision == nil || decision.Action != domain.ActionEnter {
		return nil
	}

	tick, ok := snapshot.Tickers[decision.Symbol]
	if !ok || tick.Price <= 0 {
		return fmt.Errorf("no market price for %s: %w", decision.Symbol, ports.ErrNotFound)
	}

	quantity := decision.Quantity
	if quantity <= 0 {
		quantity = e.quantity
	}

	signal := &domain.Signal{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		OwnerID:    e.ownerID,
		Symbol:     decision.Symbol,
		Side:       decision.Side,
		StopLoss:   decision.StopLoss,
		TakeProfit: decision.TakeProfit,
		Confidence: decision.Confidence,
		Reasoning:  decision.Reasoning,
		CreatedAt:  time.Now(),
	}

	position, err := e.executor.ExecuteEntry(ctx, signal, quantity, tick.Price)
	if err != nil {
		return fmt.Errorf("entry for strategy %s failed: %w", strategyID, err)
	}
	e.monitor.AddPosition(position)
	return nil
}

// OnExit implements ports.ExitHandler: close the position through the
// executor. A nil return removes the position from the monitor's live set.
func (e *Engine) OnExit(ctx context.Context, position *domain.Position, reason domain.ExitReason, price float64) error {
	return e.executor.ExecuteExit(ctx, position, reason, price)
}

// reloadPositions loads open positions from storage into the monitor so
// stop-loss/take-profit protection resumes after a restart.
func (e *Engine) reloadPositions(ctx context.Context) error {
	positions, err := e.repo.FindOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, position := range positions {
		e.monitor.AddPosition(position)
	}
	if len(positions) > 0 {
		e.logger.Info(ctx, "Reloaded open positions from storage", map[string]interface{}{
			"count": len(positions),
		})
	}
	return nil
}

// eventPump routes feed events: ticks drive the position monitor, candles are
// already in the cache, terminal stream errors are surfaced in the log.
func (e *Engine) eventPump() {
	defer e.wg.Done()

	for event := range e.feed.Events() {
		switch event.Type {
		case domain.EventTick:
			e.monitor.UpdatePrice(event.Tick.Symbol, event.Tick.Price)
		case domain.EventCandle:
			// Cache already updated by the feed.
		case domain.EventError:
			e.logger.Error(e.ctx, event.Err, "Market data stream failed", map[string]interface{}{
				"group": event.Group,
			})
		}
	}
}

// heartbeatLoop records liveness on a fixed interval, independent of every
// other loop. Failures are logged only.
func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(e.ctx, heartbeatWriteTimeout)
			if err := e.repo.UpdateHeartbeat(ctx, e.machineID); err != nil {
				e.logger.Warn(e.ctx, "Heartbeat update failed", map[string]interface{}{
					"machineID": e.machineID,
					"error":     err.Error(),
				})
			}
			cancel()
		}
	}
}
