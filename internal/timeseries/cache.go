package timeseries

import (
	"sync"
	"time"

	"tradeSentinel/internal/domain"
)

// DefaultMaxLen is the default number of candles retained per (symbol, interval).
const DefaultMaxLen = 1000

// Cache is a thread-safe, bounded in-memory store of candle series keyed by
// (symbol, interval). The last candle of a series is replaced in place while
// its interval is still open; completed candles are appended and the oldest
// entry is evicted once the series exceeds the configured maximum length.
// Series are always ordered by open time ascending.
type Cache struct {
	mu         sync.RWMutex
	data       map[string]map[string][]domain.Candle // symbol -> interval -> candles
	maxLen     int
	lastUpdate time.Time
}

// Stats holds cache statistics.
type Stats struct {
	Symbols      int
	TotalCandles int
	LastUpdate   time.Time
}

// New creates a cache keeping at most maxLen candles per (symbol, interval).
// A non-positive maxLen falls back to DefaultMaxLen.
func New(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Cache{
		data:   make(map[string]map[string][]domain.Candle),
		maxLen: maxLen,
	}
}

// Update inserts a candle into the series for (symbol, interval). A candle
// whose open time equals the last stored candle's open time replaces it in
// place (same in-progress candle); otherwise it is appended and the oldest
// entry is evicted if the series is over capacity.
func (c *Cache) Update(symbol, interval string, candle domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data[symbol] == nil {
		c.data[symbol] = make(map[string][]domain.Candle)
	}

	candles := c.data[symbol][interval]
	if len(candles) > 0 && candles[len(candles)-1].OpenTime.Equal(candle.OpenTime) {
		candles[len(candles)-1] = candle
	} else {
		candles = append(candles, candle)
		if len(candles) > c.maxLen {
			candles = candles[len(candles)-c.maxLen:]
		}
	}
	c.data[symbol][interval] = candles
	c.lastUpdate = time.Now()
}

// Set bulk-loads a series for (symbol, interval), e.g. from a historical
// bootstrap fetch. Only the most recent maxLen candles are kept. The input is
// copied; the caller keeps ownership of its slice.
func (c *Cache) Set(symbol, interval string, candles []domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data[symbol] == nil {
		c.data[symbol] = make(map[string][]domain.Candle)
	}

	if len(candles) > c.maxLen {
		candles = candles[len(candles)-c.maxLen:]
	}
	stored := make([]domain.Candle, len(candles))
	copy(stored, candles)
	c.data[symbol][interval] = stored
	c.lastUpdate = time.Now()
}

// Get returns a copy of the most recent limit candles for (symbol, interval).
// A limit of 0, a negative limit, or a limit beyond the available count
// returns the whole series. The result is nil when the series is unknown.
func (c *Cache) Get(symbol, interval string, limit int) []domain.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candles, ok := c.data[symbol][interval]
	if !ok {
		return nil
	}

	if limit <= 0 || limit > len(candles) {
		limit = len(candles)
	}
	result := make([]domain.Candle, limit)
	copy(result, candles[len(candles)-limit:])
	return result
}

// GetAll returns copies of every series stored for a symbol, keyed by interval.
func (c *Cache) GetAll(symbol string) map[string][]domain.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	intervals, ok := c.data[symbol]
	if !ok {
		return nil
	}

	result := make(map[string][]domain.Candle, len(intervals))
	for interval, candles := range intervals {
		cp := make([]domain.Candle, len(candles))
		copy(cp, candles)
		result[interval] = cp
	}
	return result
}

// Latest returns the most recent candle for (symbol, interval), if any.
func (c *Cache) Latest(symbol, interval string) (domain.Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candles, ok := c.data[symbol][interval]
	if !ok || len(candles) == 0 {
		return domain.Candle{}, false
	}
	return candles[len(candles)-1], true
}

// Symbols returns all symbols currently in the cache.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.data))
	for symbol := range c.data {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// Clear removes all data from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]map[string][]domain.Candle)
	c.lastUpdate = time.Time{}
}

// Stats returns the symbol count, total candle count and last update time.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, intervals := range c.data {
		for _, candles := range intervals {
			total += len(candles)
		}
	}
	return Stats{
		Symbols:      len(c.data),
		TotalCandles: total,
		LastUpdate:   c.lastUpdate,
	}
}
