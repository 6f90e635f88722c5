package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"tradeSentinel/internal/domain"
	"tradeSentinel/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// Client implements the ports.OrderPlacer interface using the go-binance
// spot client.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("API key and secret are required for live order placement: %w", ports.ErrInvalidAPIKeys)
	}

	binance.UseTestnet = cfg.UseTestnet
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"testnet": cfg.UseTestnet,
		"baseURL": client.BaseURL,
	})

	return &Client{
		spotClient: client,
		logger:     cfg.Logger,
	}, nil
}

// PlaceMarketOrder places a market order and returns the exchange's order ID.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (string, error) {
	if symbol == "" || quantity <= 0 {
		return "", fmt.Errorf("market order for %q qty %v: %w", symbol, quantity, ports.ErrInvalidRequest)
	}

	order, err := c.spotClient.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return "", c.handleError(ctx, err, "PlaceMarketOrder")
	}

	orderID := strconv.FormatInt(order.OrderID, 10)
	c.logger.Info(ctx, "Market order placed", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"orderID":  orderID,
		"status":   order.Status,
	})
	return orderID, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature, key format, or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -1100, -1101, -1102, -1103, -1104, -1111, -1121: // Parameter/request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientBalance
		default:
			mappedErr = ports.ErrUnknown
		}

		c.logger.Error(ctx, err, "Binance API error", fields)
		return fmt.Errorf("%s failed (code %d): %w", operation, apiErr.Code, mappedErr)
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", operation, ports.ErrContextCanceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, ports.ErrTimeout)
	}

	c.logger.Error(ctx, err, "Binance request failed", fields)
	return fmt.Errorf("%s failed: %w", operation, err)
}
