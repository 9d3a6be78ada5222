package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Binance uses these codes for settings that are already in effect;
	// redundant setup calls are not failures.
	codeNoNeedToChangeMarginType   = -4046
	codeNoNeedToChangePositionSide = -4059
)

// Client implements the ports.ExchangeClient interface using the go-binance
// library. A single shared rate limiter spaces out every REST call so the
// aggregate call rate across all symbol traders stays under the exchange
// limit. The client is safe for concurrent use.
type Client struct {
	futuresClient *futures.Client
	limiter       *rate.Limiter
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	Logger      ports.Logger
	CallsPerSec float64 // REST calls per second across all symbols
	CallBurst   int     // short burst allowance
	HTTPTimeout time.Duration
}

// New creates a new Binance futures client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}
	if cfg.HTTPTimeout > 0 {
		client.HTTPClient.Timeout = cfg.HTTPTimeout
	}

	callsPerSec := cfg.CallsPerSec
	if callsPerSec <= 0 {
		callsPerSec = 5
	}
	burst := cfg.CallBurst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		futuresClient: client,
		limiter:       rate.NewLimiter(rate.Limit(callsPerSec), burst),
		logger:        cfg.Logger,
	}, nil
}

// throttle blocks until the shared limiter grants a slot for one REST call.
func (c *Client) throttle(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w: %w", ports.ErrContextCanceled, err)
	}
	return nil
}

// handleError translates Binance API errors into the standardized ports
// taxonomy. kind is the caller's failure class (ErrMarketData for fetches,
// ErrOrderFailed for submissions) so the core can classify with errors.Is;
// throttling responses additionally match ErrRateLimited.
func (c *Client) handleError(ctx context.Context, err error, operation string, kind error) error {
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
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -2014, -2015: // API-key format invalid / bad key, IP or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019, -3005, -3041, -4047: // Margin/balance/position insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -1111, -1121, -4003, -4014, -4015: // Precision, symbol, qty, price, leverage
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = kind
		}
		finalErr := fmt.Errorf("%s failed: %w: %w: %w", operation, kind, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w: %w", operation, kind, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w: %w", operation, kind, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, kind, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.throttle(ctx); err != nil {
		return err
	}
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op, ports.ErrExchangeUnavailable)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetKlines retrieves the most recent klines for the symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrMarketData)
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op, ports.ErrMarketData)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}

// GetTickerPrice retrieves the last traded price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	if err := c.throttle(ctx); err != nil {
		return 0, err
	}
	tickers, err := c.futuresClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op, ports.ErrMarketData)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op, ports.ErrMarketData)
	}

	price, err := strconv.ParseFloat(tickers[0].Price, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].Price, err)
		return 0, c.handleError(ctx, parseErr, op, ports.ErrMarketData)
	}
	return price, nil
}

// GetAccountBalance retrieves the wallet balance for a specific asset.
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	if err := c.throttle(ctx); err != nil {
		return 0, err
	}
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op, ports.ErrMarketData)
	}

	for _, bal := range account.Assets {
		if bal.Asset == asset {
			balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, asset, err)
				return 0, c.handleError(ctx, parseErr, op, ports.ErrMarketData)
			}
			return balance, nil
		}
	}

	err = fmt.Errorf("asset %s not found in account balance", asset)
	return 0, c.handleError(ctx, err, op, ports.ErrMarketData)
}

// GetPrecision retrieves the quantity step (LOT_SIZE) and price tick
// (PRICE_FILTER) for a symbol from the exchange info endpoint.
func (c *Client) GetPrecision(ctx context.Context, symbol string) (*domain.InstrumentPrecision, error) {
	op := "GetPrecision"
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrMarketData)
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		lot := s.LotSizeFilter()
		pf := s.PriceFilter()
		if lot == nil || pf == nil {
			err := fmt.Errorf("symbol %s is missing LOT_SIZE or PRICE_FILTER", symbol)
			return nil, c.handleError(ctx, err, op, ports.ErrMarketData)
		}
		step, err := decimal.NewFromString(lot.StepSize)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse step size '%s': %w", lot.StepSize, err), op, ports.ErrMarketData)
		}
		tick, err := decimal.NewFromString(pf.TickSize)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse tick size '%s': %w", pf.TickSize, err), op, ports.ErrMarketData)
		}
		c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "quantityStep": step.String(), "priceStep": tick.String()})
		return &domain.InstrumentPrecision{QuantityStep: step, PriceStep: tick}, nil
	}

	err = fmt.Errorf("symbol %s not found in exchange info", symbol)
	return nil, c.handleError(ctx, err, op, ports.ErrMarketData)
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	if err := c.throttle(ctx); err != nil {
		return err
	}
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op, ports.ErrInvalidRequest)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// SetMarginMode sets the margin mode for a symbol. A "no need to change"
// response from the exchange is treated as success.
func (c *Client) SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error {
	op := "SetMarginMode"
	marginType := futures.MarginTypeIsolated
	if mode == domain.MarginCross {
		marginType = futures.MarginTypeCrossed
	}
	if err := c.throttle(ctx); err != nil {
		return err
	}
	err := c.futuresClient.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(marginType).
		Do(ctx)
	if err != nil {
		if isAPICode(err, codeNoNeedToChangeMarginType) {
			c.logger.Debug(ctx, op+": margin mode already set", map[string]interface{}{"symbol": symbol, "mode": mode})
			return nil
		}
		return c.handleError(ctx, err, op, ports.ErrInvalidRequest)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "mode": mode})
	return nil
}

// SetPositionMode sets the account-wide position mode (oneway or hedge).
// A "no need to change" response from the exchange is treated as success.
func (c *Client) SetPositionMode(ctx context.Context, mode domain.PositionMode) error {
	op := "SetPositionMode"
	if err := c.throttle(ctx); err != nil {
		return err
	}
	err := c.futuresClient.NewChangePositionModeService().
		DualSide(mode == domain.PositionHedge).
		Do(ctx)
	if err != nil {
		if isAPICode(err, codeNoNeedToChangePositionSide) {
			c.logger.Debug(ctx, op+": position mode already set", map[string]interface{}{"mode": mode})
			return nil
		}
		return c.handleError(ctx, err, op, ports.ErrInvalidRequest)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"mode": mode})
	return nil
}

// PlaceMarketOrder places a market order, optionally reduce-only. The RESULT
// response type is requested so the fill price is available immediately.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, reduceOnly bool) (*ports.OrderResult, error) {
	op := "PlaceMarketOrder"
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrOrderFailed)
	}

	res := translateOrderResult(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": quantity,
		"reduceOnly": reduceOnly, "orderID": res.OrderID, "avgPrice": res.AvgPrice,
	})
	return res, nil
}

// isAPICode reports whether err is a Binance API error with the given code.
func isAPICode(err error, code int64) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// --- Translation Helpers ---

func translateOrderResult(order *futures.CreateOrderResponse) *ports.OrderResult {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResult{
		OrderID:     order.OrderID,
		Symbol:      order.Symbol,
		Side:        string(order.Side),
		AvgPrice:    avgPrice,
		ExecutedQty: execQty,
		Status:      string(order.Status),
		Timestamp:   time.UnixMilli(order.UpdateTime),
	}
}

func translateKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
