package domain

import "time"

// Tick represents the latest traded price for a symbol. Ticks are ephemeral;
// consumers keep at most the most recent one per symbol.
type Tick struct {
	Symbol    string    // Trading symbol (e.g., "ETHUSDT")
	Price     float64   // Last traded price
	Timestamp time.Time // Exchange event time
}

// Candle represents a single OHLCV bar for a symbol over a fixed interval.
// A candle is mutable (replaced in place) while its interval is still open and
// immutable once IsFinal is set.
type Candle struct {
	Symbol    string    // Trading symbol
	Interval  string    // Candle interval (e.g., "1m", "1h")
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
	IsFinal   bool      // Whether this candle is the final one for the interval
}

// Snapshot is a point-in-time deep copy of all cached market data.
type Snapshot struct {
	Tickers   map[string]*Tick               // symbol -> latest tick
	Candles   map[string]map[string][]Candle // symbol -> interval -> candles
	Symbols   []string                       // symbols with ticker data
	Timestamp time.Time
}

// FeedEventType classifies events published by the market data feed.
type FeedEventType string

const (
	EventTick   FeedEventType = "tick"
	EventCandle FeedEventType = "candle"
	EventError  FeedEventType = "error"
)

// FeedEvent is a normalized event published by the market data feed. Error
// events carry Err and identify the failed connection group via Group; once a
// terminal error is published that group stays inactive until resubscribed.
type FeedEvent struct {
	Type      FeedEventType
	Symbol    string
	Interval  string // candle events only
	Group     string // error events only: connection group identity
	Tick      *Tick
	Candle    *Candle
	Err       error
	Timestamp time.Time
}
