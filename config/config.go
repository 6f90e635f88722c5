package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradeSentinel/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API (live trading only)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading mode
	PaperTrading   bool
	InitialBalance float64 // paper ledger starting funds per owner
	OwnerID        string  // account the engine trades for

	// Market data
	Symbols   []string // symbols to stream tickers for
	Intervals []string // candle intervals to stream per symbol

	// Strategy Parameters
	StrategyID       string
	StrategyInterval time.Duration // how often the scheduler fires the check
	StrategyLookback int           // rising closes required for an entry
	Quantity         float64
	StopLossPct      float64 // e.g., 0.02 for 2% below entry
	TakeProfitPct    float64 // e.g., 0.04 for 4% above entry

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	EventBufferSize      int

	// Engine loops
	CacheMaxLen       int
	ReconcileInterval time.Duration
	HeartbeatInterval time.Duration
	EvaluationTimeout time.Duration
	MachineID         string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Trading mode
	cfg.PaperTrading = getEnvAsBool("PAPER_TRADING", true) // Default to paper for safety
	cfg.OwnerID = getEnv("OWNER_ID", "default")

	cfg.InitialBalance, err = getEnvAsFloatRequired("INITIAL_BALANCE", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_BALANCE: %v", err))
	} else if cfg.PaperTrading && cfg.InitialBalance <= 0 {
		errs = append(errs, "INITIAL_BALANCE must be positive for paper trading")
	}

	// Binance API (required only for live order placement)
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true)
	if !cfg.PaperTrading {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set for live trading")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set for live trading")
		}
	}

	// Market data
	cfg.Symbols = splitList(getEnv("SYMBOLS", "ETHUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.Intervals = splitList(getEnv("INTERVALS", "1m,1h"))
	if len(cfg.Intervals) == 0 {
		errs = append(errs, "INTERVALS must list at least one candle interval")
	}

	// Strategy Parameters
	cfg.StrategyID = getEnv("STRATEGY_ID", "momentum-1")

	checkIntervalSeconds := getEnvAsInt("STRATEGY_CHECK_INTERVAL_SECONDS", 60)
	if checkIntervalSeconds <= 0 {
		errs = append(errs, "STRATEGY_CHECK_INTERVAL_SECONDS must be positive")
	}
	cfg.StrategyInterval = time.Duration(checkIntervalSeconds) * time.Second

	cfg.StrategyLookback = getEnvAsInt("STRATEGY_LOOKBACK", 3)
	if cfg.StrategyLookback < 2 {
		errs = append(errs, "STRATEGY_LOOKBACK must be at least 2")
	}

	cfg.Quantity, err = getEnvAsFloatRequired("QUANTITY", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUANTITY: %v", err))
	} else if cfg.Quantity <= 0 {
		errs = append(errs, "QUANTITY must be positive")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1.0 {
		errs = append(errs, "STOP_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TakeProfitPct, err = getEnvAsFloatRequired("TAKE_PROFIT_PCT", 0.04)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PCT: %v", err))
	} else if cfg.TakeProfitPct <= 0 {
		errs = append(errs, "TAKE_PROFIT_PCT must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trade_sentinel.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	maxReconnectDelaySeconds := getEnvAsInt("MAX_RECONNECT_DELAY_SECONDS", 30)
	if maxReconnectDelaySeconds < reconnectDelaySeconds {
		errs = append(errs, "MAX_RECONNECT_DELAY_SECONDS must be at least RECONNECT_DELAY_SECONDS")
	}
	cfg.MaxReconnectDelay = time.Duration(maxReconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts <= 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS must be positive")
	}

	cfg.EventBufferSize = getEnvAsInt("EVENT_BUFFER_SIZE", 256)
	if cfg.EventBufferSize <= 0 {
		errs = append(errs, "EVENT_BUFFER_SIZE must be positive")
	}

	// Engine loops
	cfg.CacheMaxLen = getEnvAsInt("CACHE_MAX_CANDLES", 1000)
	if cfg.CacheMaxLen <= 0 {
		errs = append(errs, "CACHE_MAX_CANDLES must be positive")
	}

	reconcileSeconds := getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 15)
	if reconcileSeconds <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL_SECONDS must be positive")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSeconds) * time.Second

	heartbeatSeconds := getEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 30)
	if heartbeatSeconds <= 0 {
		errs = append(errs, "HEARTBEAT_INTERVAL_SECONDS must be positive")
	}
	cfg.HeartbeatInterval = time.Duration(heartbeatSeconds) * time.Second

	evalTimeoutSeconds := getEnvAsInt("EVALUATION_TIMEOUT_SECONDS", 10)
	if evalTimeoutSeconds <= 0 {
		errs = append(errs, "EVALUATION_TIMEOUT_SECONDS must be positive")
	}
	cfg.EvaluationTimeout = time.Duration(evalTimeoutSeconds) * time.Second

	cfg.MachineID = getEnv("MACHINE_ID", "")
	if cfg.MachineID == "" {
		if hostname, hostErr := os.Hostname(); hostErr == nil {
			cfg.MachineID = hostname
		} else {
			cfg.MachineID = "unknown"
		}
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// splitList parses a comma-separated env value into trimmed non-empty items.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			items = append(items, p)
		}
	}
	return items
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
