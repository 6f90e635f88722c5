package marketdata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTick(t *testing.T) {
	raw := json.RawMessage(`{
		"e": "24hrTicker",
		"E": 1756500000123,
		"s": "ETHUSDT",
		"c": "2450.55"
	}`)

	tick, err := parseTick(raw)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", tick.Symbol)
	assert.Equal(t, 2450.55, tick.Price)
	assert.Equal(t, time.UnixMilli(1756500000123), tick.Timestamp)
}

func TestParseTickMalformed(t *testing.T) {
	_, err := parseTick(json.RawMessage(`{"s":"ETHUSDT","c":"not-a-number"}`))
	require.Error(t, err)

	_, err = parseTick(json.RawMessage(`{broken`))
	require.Error(t, err)
}

func TestParseCandle(t *testing.T) {
	raw := json.RawMessage(`{
		"e": "kline",
		"E": 1756500000456,
		"s": "ETHUSDT",
		"k": {
			"t": 1756499940000,
			"T": 1756499999999,
			"s": "ETHUSDT",
			"i": "1m",
			"o": "2448.00",
			"c": "2450.55",
			"h": "2451.20",
			"l": "2447.10",
			"v": "321.7",
			"x": true
		}
	}`)

	candle, err := parseCandle(raw)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", candle.Symbol)
	assert.Equal(t, "1m", candle.Interval)
	assert.Equal(t, time.UnixMilli(1756499940000), candle.OpenTime)
	assert.Equal(t, time.UnixMilli(1756499999999), candle.CloseTime)
	assert.Equal(t, 2448.00, candle.Open)
	assert.Equal(t, 2450.55, candle.Close)
	assert.Equal(t, 2451.20, candle.High)
	assert.Equal(t, 2447.10, candle.Low)
	assert.Equal(t, 321.7, candle.Volume)
	assert.True(t, candle.IsFinal)
}

func TestParseCandleMalformed(t *testing.T) {
	_, err := parseCandle(json.RawMessage(`{"s":"ETHUSDT","k":{"o":"bad"}}`))
	require.Error(t, err)
}
