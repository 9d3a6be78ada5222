package ports

import (
	"context"
	"time"

	"scalpbot/internal/domain"
)

// OrderResult represents the essential details returned after a market
// order is confirmed by the exchange.
type OrderResult struct {
	OrderID     int64     // Exchange's order ID
	Symbol      string    // Symbol for the order
	Side        string    // Order side (BUY, SELL)
	AvgPrice    float64   // Average filled price (may be 0 if unreported)
	ExecutedQty float64   // Quantity filled
	Status      string    // Order status (e.g., NEW, FILLED)
	Timestamp   time.Time // Time the order response was generated
}

// ExchangeClient defines the interface for interacting with the exchange.
// It is the sole I/O boundary for price data and order submission, keeping
// the core decoupled from any specific exchange implementation. The
// implementation must be safe for concurrent use by multiple symbol traders.
type ExchangeClient interface {
	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetKlines retrieves the most recent klines for the symbol, oldest
	// first. The final kline may still be forming.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetAccountBalance retrieves the wallet balance for an asset (e.g. "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// GetPrecision retrieves the quantity and price steps for a symbol.
	// Called once per symbol at startup; the result is cached by the caller.
	GetPrecision(ctx context.Context, symbol string) (*domain.InstrumentPrecision, error)

	// SetLeverage sets the leverage for a symbol. Called once at startup;
	// failures are non-fatal (exchanges reject redundant settings).
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetMarginMode sets the margin mode for a symbol. Same startup-only,
	// non-fatal contract as SetLeverage.
	SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error

	// SetPositionMode sets the account-wide position mode. Called once at
	// startup; non-fatal on failure.
	SetPositionMode(ctx context.Context, mode domain.PositionMode) error

	// PlaceMarketOrder submits a market order. Quantity is pre-formatted to
	// the instrument's quantity step. reduceOnly restricts the order to
	// decreasing an existing position.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, reduceOnly bool) (*OrderResult, error)
}
