package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"tradeSentinel/config"
	"tradeSentinel/internal/adapters/binanceclient"
	"tradeSentinel/internal/adapters/evaluator"
	"tradeSentinel/internal/adapters/logger"
	"tradeSentinel/internal/adapters/sqlite"
	"tradeSentinel/internal/engine"
	"tradeSentinel/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (live trading only)
	var orderPlacer ports.OrderPlacer
	if !cfg.PaperTrading {
		binanceClient, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
			log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
		}
		orderPlacer = binanceClient
	}

	// 5. Initialize Evaluator
	eval, err := evaluator.New(evaluator.Config{
		Logger:        appLogger,
		Symbol:        cfg.Symbols[0],
		Interval:      cfg.Intervals[0],
		Lookback:      cfg.StrategyLookback,
		Quantity:      cfg.Quantity,
		StopLossPct:   cfg.StopLossPct,
		TakeProfitPct: cfg.TakeProfitPct,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize evaluator")
		log.Fatalf("FATAL: Failed to initialize evaluator: %v", err)
	}

	// 6. Initialize Engine
	eng, err := engine.New(engine.Config{
		Logger:               appLogger,
		Repository:           repo,
		Evaluator:            eval,
		OrderPlacer:          orderPlacer,
		PaperTrading:         cfg.PaperTrading,
		InitialBalance:       cfg.InitialBalance,
		OwnerID:              cfg.OwnerID,
		Symbols:              cfg.Symbols,
		Intervals:            cfg.Intervals,
		Quantity:             cfg.Quantity,
		EventBufferSize:      cfg.EventBufferSize,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		CacheMaxLen:          cfg.CacheMaxLen,
		ReconcileInterval:    cfg.ReconcileInterval,
		EvaluationTimeout:    cfg.EvaluationTimeout,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		MachineID:            cfg.MachineID,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize engine")
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	// 7. Start and register the configured strategy
	if err := eng.Start(); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to start engine")
		log.Fatalf("FATAL: Failed to start engine: %v", err)
	}
	if err := eng.RegisterStrategy(cfg.StrategyID, cfg.StrategyInterval); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to register strategy")
		eng.Stop()
		log.Fatalf("FATAL: Failed to register strategy: %v", err)
	}

	// 8. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info(context.Background(), "Shutdown signal received", map[string]interface{}{"signal": sig.String()})

	if err := eng.Stop(); err != nil {
		appLogger.Error(context.Background(), err, "Engine exited with error")
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
