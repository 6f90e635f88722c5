package marketdata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tradeSentinel/internal/domain"
)

// combinedStreamMessage is the envelope used by the exchange's combined
// stream endpoint: {"stream":"ethusdt@ticker","data":{...}}.
type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsTickerEvent is the 24hr rolling ticker payload. Only the fields the feed
// consumes are declared.
type wsTickerEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

// wsKlineEvent is the kline/candlestick payload.
type wsKlineEvent struct {
	EventType string  `json:"e"`
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	Kline     wsKline `json:"k"`
}

type wsKline struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	IsFinal   bool   `json:"x"`
}

func parseFloat(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", field, value, err)
	}
	return f, nil
}

// parseTick converts a raw ticker payload into a domain tick.
func parseTick(data json.RawMessage) (*domain.Tick, error) {
	var event wsTickerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticker event: %w", err)
	}

	price, err := parseFloat("last price", event.LastPrice)
	if err != nil {
		return nil, err
	}

	return &domain.Tick{
		Symbol:    event.Symbol,
		Price:     price,
		Timestamp: time.UnixMilli(event.EventTime),
	}, nil
}

// parseCandle converts a raw kline payload into a domain candle.
func parseCandle(data json.RawMessage) (*domain.Candle, error) {
	var event wsKlineEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kline event: %w", err)
	}

	k := event.Kline
	open, err := parseFloat("open", k.Open)
	if err != nil {
		return nil, err
	}
	high, err := parseFloat("high", k.High)
	if err != nil {
		return nil, err
	}
	low, err := parseFloat("low", k.Low)
	if err != nil {
		return nil, err
	}
	closePrice, err := parseFloat("close", k.Close)
	if err != nil {
		return nil, err
	}
	volume, err := parseFloat("volume", k.Volume)
	if err != nil {
		return nil, err
	}

	return &domain.Candle{
		Symbol:    event.Symbol,
		Interval:  k.Interval,
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		IsFinal:   k.IsFinal,
	}, nil
}
