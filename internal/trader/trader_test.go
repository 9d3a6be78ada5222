package trader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// --- Mocks ---

type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type stubSignals struct {
	signal  domain.Signal
	windows []int // lengths of the kline windows received
}

func (s *stubSignals) RequiredDataPoints() int { return 3 }

func (s *stubSignals) Evaluate(klines []*domain.Kline) domain.Signal {
	s.windows = append(s.windows, len(klines))
	return s.signal
}

type placedOrder struct {
	symbol     string
	side       domain.OrderSide
	quantity   string
	reduceOnly bool
}

type mockExchange struct {
	klines      []*domain.Kline
	klinesErr   error
	klinesCalls int

	price    float64
	priceErr error

	orderResult *ports.OrderResult
	orderErr    error
	orders      []placedOrder
}

func (m *mockExchange) Ping(ctx context.Context) error { return nil }

func (m *mockExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	m.klinesCalls++
	return m.klines, m.klinesErr
}

func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockExchange) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	return 1000.0, nil
}

func (m *mockExchange) GetPrecision(ctx context.Context, symbol string) (*domain.InstrumentPrecision, error) {
	return &domain.InstrumentPrecision{
		QuantityStep: decimal.RequireFromString("0.001"),
		PriceStep:    decimal.RequireFromString("0.01"),
	}, nil
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *mockExchange) SetMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) error {
	return nil
}

func (m *mockExchange) SetPositionMode(ctx context.Context, mode domain.PositionMode) error {
	return nil
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, reduceOnly bool) (*ports.OrderResult, error) {
	m.orders = append(m.orders, placedOrder{symbol: symbol, side: side, quantity: quantity, reduceOnly: reduceOnly})
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	return m.orderResult, nil
}

// --- Helpers ---

func testConfig() Config {
	return Config{
		Symbol:            "BTCUSDT",
		Timeframe:         "1m",
		Leverage:          5,
		MaxNotionalUSDT:   50,
		TakeProfitPct:     0.003,
		StopLossPct:       0.002,
		MaxOrderFailures:  5,
		RateLimitCooldown: 60 * time.Second,
	}
}

func testPrecision() domain.InstrumentPrecision {
	return domain.InstrumentPrecision{
		QuantityStep: decimal.RequireFromString("0.001"),
		PriceStep:    decimal.RequireFromString("0.01"),
	}
}

func newTestTrader(t *testing.T, cfg Config) (*Trader, *mockExchange, *stubSignals, chan domain.Event, *mockLogger) {
	t.Helper()
	exchange := &mockExchange{}
	signals := &stubSignals{}
	logger := &mockLogger{}
	events := make(chan domain.Event, 16)
	tr, err := New(cfg, exchange, signals, testPrecision(), logger, events)
	require.NoError(t, err)
	return tr, exchange, signals, events, logger
}

func drainEvents(events chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfKind(events []domain.Event, kind domain.EventKind) []domain.Event {
	var out []domain.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func openLong(t *testing.T, tr *Trader, exchange *mockExchange, entry float64) {
	t.Helper()
	exchange.orderErr = nil
	exchange.orderResult = &ports.OrderResult{OrderID: 1, AvgPrice: entry, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalBuy, entry)
	require.Equal(t, StateOpen, tr.State())
	require.NotNil(t, tr.Position())
}

// --- Constructor ---

func TestNew_Validation(t *testing.T) {
	exchange := &mockExchange{}
	signals := &stubSignals{}
	logger := &mockLogger{}
	events := make(chan domain.Event, 1)

	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "empty symbol", mutate: func(cfg *Config) { cfg.Symbol = "" }},
		{name: "empty timeframe", mutate: func(cfg *Config) { cfg.Timeframe = "" }},
		{name: "zero leverage", mutate: func(cfg *Config) { cfg.Leverage = 0 }},
		{name: "zero notional", mutate: func(cfg *Config) { cfg.MaxNotionalUSDT = 0 }},
		{name: "TP fraction out of range", mutate: func(cfg *Config) { cfg.TakeProfitPct = 1.5 }},
		{name: "SL fraction out of range", mutate: func(cfg *Config) { cfg.StopLossPct = 0 }},
		{name: "zero max order failures", mutate: func(cfg *Config) { cfg.MaxOrderFailures = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, exchange, signals, testPrecision(), logger, events)
			assert.Error(t, err)
		})
	}

	t.Run("nil exchange", func(t *testing.T) {
		_, err := New(testConfig(), nil, signals, testPrecision(), logger, events)
		assert.Error(t, err)
	})

	t.Run("zero quantity step", func(t *testing.T) {
		_, err := New(testConfig(), exchange, signals, domain.InstrumentPrecision{}, logger, events)
		assert.Error(t, err)
	})
}

// --- Entry ---

func TestStep_OpensLongOnBuySignal(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	exchange.orderResult = &ports.OrderResult{OrderID: 42, AvgPrice: 50000, ExecutedQty: 0.005, Status: "FILLED"}

	tr.Step(context.Background(), domain.SignalBuy, 50000)

	require.Equal(t, StateOpen, tr.State())
	pos := tr.Position()
	require.NotNil(t, pos)
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.Equal(t, 50000.0, pos.EntryPrice)
	assert.Equal(t, "0.005", pos.Quantity.String())
	assert.Equal(t, 50150.0, pos.TakeProfit) // 50000 * 1.003
	assert.Equal(t, 49900.0, pos.StopLoss)   // 50000 * 0.998

	require.Len(t, exchange.orders, 1)
	assert.Equal(t, domain.Buy, exchange.orders[0].side)
	assert.Equal(t, "0.005", exchange.orders[0].quantity)
	assert.False(t, exchange.orders[0].reduceOnly)

	evs := drainEvents(events)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventOpened, evs[0].Kind)
	assert.Equal(t, "BTCUSDT", evs[0].Symbol)
}

func TestStep_OpensShortOnSellSignal(t *testing.T) {
	tr, exchange, _, _, _ := newTestTrader(t, testConfig())
	exchange.orderResult = &ports.OrderResult{OrderID: 42, AvgPrice: 50000, Status: "FILLED"}

	tr.Step(context.Background(), domain.SignalSell, 50000)

	require.Equal(t, StateOpen, tr.State())
	pos := tr.Position()
	require.NotNil(t, pos)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.Equal(t, 49850.0, pos.TakeProfit) // below entry for a short
	assert.Equal(t, 50100.0, pos.StopLoss)   // above entry for a short

	require.Len(t, exchange.orders, 1)
	assert.Equal(t, domain.Sell, exchange.orders[0].side)
}

func TestStep_NoSignalStaysFlat(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())

	tr.Step(context.Background(), domain.SignalNone, 50000)

	assert.Equal(t, StateFlat, tr.State())
	assert.Nil(t, tr.Position())
	assert.Empty(t, exchange.orders)
	assert.Empty(t, drainEvents(events))
}

func TestStep_EntryFillPriceFallsBackToLastPrice(t *testing.T) {
	tr, exchange, _, _, logger := newTestTrader(t, testConfig())
	exchange.orderResult = &ports.OrderResult{OrderID: 42, AvgPrice: 0, Status: "NEW"}

	tr.Step(context.Background(), domain.SignalBuy, 50000)

	require.Equal(t, StateOpen, tr.State())
	assert.Equal(t, 50000.0, tr.Position().EntryPrice)
	assert.NotEmpty(t, logger.warnMsgs)
}

func TestStep_SizingFailureSkipsTrade(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())

	// 250 USDT of buying power rounds to zero contracts at this price.
	tr.Step(context.Background(), domain.SignalBuy, 10_000_000)

	assert.Equal(t, StateFlat, tr.State())
	assert.Nil(t, tr.Position())
	assert.Empty(t, exchange.orders, "no order may be submitted when sizing fails")

	evs := drainEvents(events)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventError, evs[0].Kind)
	assert.Contains(t, evs[0].Message, "trade skipped")
}

func TestStep_EntryFailureReturnsToFlat(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	exchange.orderErr = fmt.Errorf("%w: rejected", ports.ErrOrderFailed)

	tr.Step(context.Background(), domain.SignalBuy, 50000)

	assert.Equal(t, StateFlat, tr.State())
	assert.Nil(t, tr.Position(), "no partial position may survive a failed entry")

	evs := eventsOfKind(drainEvents(events), domain.EventError)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Message, "entry order failed")
}

func TestStep_IgnoresEntrySignalWhileOpen(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	openLong(t, tr, exchange, 50000)
	drainEvents(events)
	held := tr.Position()

	// Another BUY arrives with the price inside the TP/SL band.
	tr.Step(context.Background(), domain.SignalBuy, 50050)

	assert.Equal(t, StateOpen, tr.State())
	assert.Same(t, held, tr.Position(), "the open position must be untouched")
	assert.Len(t, exchange.orders, 1, "no second entry order while a position is open")
}

// --- Exits ---

func TestStep_ClosesLongOnTakeProfit(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	openLong(t, tr, exchange, 50000)
	drainEvents(events)

	exchange.orderResult = &ports.OrderResult{OrderID: 43, AvgPrice: 50200, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalNone, 50200)

	assert.Equal(t, StateFlat, tr.State())
	assert.Nil(t, tr.Position())

	require.Len(t, exchange.orders, 2)
	closeOrder := exchange.orders[1]
	assert.Equal(t, domain.Sell, closeOrder.side, "a long is closed with a SELL")
	assert.Equal(t, "0.005", closeOrder.quantity)
	assert.True(t, closeOrder.reduceOnly)

	evs := drainEvents(events)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventClosed, evs[0].Kind)
	assert.Contains(t, evs[0].Message, "reason=TP")
	assert.Contains(t, evs[0].Message, "pnl=1.0000") // 0.005 * (50200 - 50000)
}

func TestStep_ClosesLongOnStopLoss(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	openLong(t, tr, exchange, 50000)
	drainEvents(events)

	exchange.orderResult = &ports.OrderResult{OrderID: 43, AvgPrice: 49900, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalNone, 49900)

	assert.Equal(t, StateFlat, tr.State())
	evs := drainEvents(events)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Message, "reason=SL")
}

func TestStep_ClosesLongOnSignalReversal(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	openLong(t, tr, exchange, 50000)
	drainEvents(events)

	// Price inside the TP/SL band, opposite signal fires.
	exchange.orderResult = &ports.OrderResult{OrderID: 43, AvgPrice: 50050, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalSell, 50050)

	assert.Equal(t, StateFlat, tr.State())
	assert.Nil(t, tr.Position(), "reversal closes without flipping into a new position")
	require.Len(t, exchange.orders, 2, "exactly one close order, no re-entry on the same tick")

	evs := drainEvents(events)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Message, "reason=SIGNAL_REVERSAL")
}

func TestStep_TakeProfitWinsOverReversal(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	openLong(t, tr, exchange, 50000)
	drainEvents(events)

	// Both TP and a reversal signal hold on the same tick.
	exchange.orderResult = &ports.OrderResult{OrderID: 43, AvgPrice: 50200, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalSell, 50200)

	evs := drainEvents(events)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Message, "reason=TP")
}

func TestStep_ClosesShortOnTakeProfit(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	exchange.orderResult = &ports.OrderResult{OrderID: 42, AvgPrice: 50000, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalSell, 50000)
	require.Equal(t, StateOpen, tr.State())
	drainEvents(events)

	exchange.orderResult = &ports.OrderResult{OrderID: 43, AvgPrice: 49800, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalNone, 49800)

	assert.Equal(t, StateFlat, tr.State())
	require.Len(t, exchange.orders, 2)
	assert.Equal(t, domain.Buy, exchange.orders[1].side, "a short is closed with a BUY")

	evs := drainEvents(events)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Message, "reason=TP")
	assert.Contains(t, evs[0].Message, "pnl=1.0000") // 0.005 * (50000 - 49800)
}

func TestStep_HoldsInsideBandWithoutSignal(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	openLong(t, tr, exchange, 50000)
	drainEvents(events)

	tr.Step(context.Background(), domain.SignalNone, 50100)

	assert.Equal(t, StateOpen, tr.State())
	assert.NotNil(t, tr.Position())
	assert.Len(t, exchange.orders, 1)
	assert.Empty(t, drainEvents(events))
}

func TestStep_CloseFailureKeepsPositionAndRetries(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	openLong(t, tr, exchange, 50000)
	drainEvents(events)
	held := tr.Position()

	exchange.orderErr = fmt.Errorf("%w: rejected", ports.ErrOrderFailed)
	tr.Step(context.Background(), domain.SignalNone, 50200)

	assert.Equal(t, StateOpen, tr.State(), "an unconfirmed close must not discard the position")
	assert.Same(t, held, tr.Position())
	require.Len(t, eventsOfKind(drainEvents(events), domain.EventError), 1)

	// Next tick the exchange recovers; exactly one close transition happens.
	exchange.orderErr = nil
	exchange.orderResult = &ports.OrderResult{OrderID: 43, AvgPrice: 50200, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalNone, 50200)

	assert.Equal(t, StateFlat, tr.State())
	assert.Nil(t, tr.Position())
	assert.Len(t, eventsOfKind(drainEvents(events), domain.EventClosed), 1)
}

// --- Failure handling ---

func TestStep_EscalatesAtConsecutiveFailureThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOrderFailures = 2
	tr, exchange, _, events, _ := newTestTrader(t, cfg)
	exchange.orderErr = fmt.Errorf("%w: rejected", ports.ErrOrderFailed)

	tr.Step(context.Background(), domain.SignalBuy, 50000)
	first := eventsOfKind(drainEvents(events), domain.EventError)
	require.Len(t, first, 1)

	tr.Step(context.Background(), domain.SignalBuy, 50000)
	second := eventsOfKind(drainEvents(events), domain.EventError)
	require.Len(t, second, 2, "threshold failure emits the failure plus the escalation")
	assert.Contains(t, second[1].Message, "manual intervention")

	// Past the threshold the escalation does not repeat.
	tr.Step(context.Background(), domain.SignalBuy, 50000)
	third := eventsOfKind(drainEvents(events), domain.EventError)
	require.Len(t, third, 1)
}

func TestStep_FailureCounterResetsOnConfirmedOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOrderFailures = 2
	tr, exchange, _, events, _ := newTestTrader(t, cfg)

	exchange.orderErr = fmt.Errorf("%w: rejected", ports.ErrOrderFailed)
	tr.Step(context.Background(), domain.SignalBuy, 50000)
	drainEvents(events)

	openLong(t, tr, exchange, 50000)
	drainEvents(events)

	// The next failure is number one again, below the threshold.
	exchange.orderErr = fmt.Errorf("%w: rejected", ports.ErrOrderFailed)
	tr.Step(context.Background(), domain.SignalNone, 50200)
	evs := eventsOfKind(drainEvents(events), domain.EventError)
	require.Len(t, evs, 1)
	assert.NotContains(t, evs[0].Message, "manual intervention")
}

func TestTrader_IsOpenTracksLifecycleWhenEventsAreDropped(t *testing.T) {
	exchange := &mockExchange{}
	signals := &stubSignals{}
	logger := &mockLogger{}
	events := make(chan domain.Event) // no reader: every emit is dropped
	tr, err := New(testConfig(), exchange, signals, testPrecision(), logger, events)
	require.NoError(t, err)

	assert.False(t, tr.IsOpen())

	exchange.orderResult = &ports.OrderResult{OrderID: 1, AvgPrice: 50000, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalBuy, 50000)
	assert.True(t, tr.IsOpen(), "open flag must not depend on event delivery")

	exchange.orderResult = &ports.OrderResult{OrderID: 2, AvgPrice: 50200, Status: "FILLED"}
	tr.Step(context.Background(), domain.SignalNone, 50200)
	assert.False(t, tr.IsOpen())

	assert.Contains(t, logger.warnMsgs, "Event channel full, event dropped")
}

// --- Tick: fetching and backoff ---

func tickKlines(now time.Time, closes ...float64) []*domain.Kline {
	klines := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		klines[i] = &domain.Kline{
			OpenTime:  now.Add(time.Duration(i-len(closes)) * time.Minute),
			CloseTime: now.Add(time.Duration(i-len(closes)+1) * time.Minute),
			Close:     c,
		}
	}
	return klines
}

func TestTick_FetchFailureBacksOff(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	exchange.klinesErr = fmt.Errorf("%w: boom", ports.ErrMarketData)

	tr.Tick(context.Background())
	assert.Equal(t, 1, exchange.klinesCalls)
	assert.True(t, tr.retryAt.After(time.Now()), "a retry deadline must be scheduled")

	evs := eventsOfKind(drainEvents(events), domain.EventError)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Message, "market data unavailable")

	// The next tick inside the backoff window must not touch the exchange.
	tr.Tick(context.Background())
	assert.Equal(t, 1, exchange.klinesCalls)
}

func TestTick_RateLimitUsesFixedCooldown(t *testing.T) {
	tr, exchange, _, _, _ := newTestTrader(t, testConfig())
	base := time.Now()
	tr.now = func() time.Time { return base }
	exchange.klinesErr = fmt.Errorf("%w: throttled", ports.ErrRateLimited)

	tr.Tick(context.Background())

	assert.Equal(t, base.Add(60*time.Second), tr.retryAt)
}

func TestTick_SuccessResetsBackoff(t *testing.T) {
	tr, exchange, _, events, _ := newTestTrader(t, testConfig())
	base := time.Now()

	exchange.klinesErr = fmt.Errorf("%w: boom", ports.ErrMarketData)
	tr.Tick(context.Background())
	require.False(t, tr.retryAt.IsZero())
	drainEvents(events)

	// Move past the retry deadline and let the fetch succeed.
	tr.now = func() time.Time { return base.Add(5 * time.Minute) }
	exchange.klinesErr = nil
	exchange.klines = tickKlines(base.Add(5*time.Minute), 100, 100, 100, 100)
	exchange.price = 100

	tr.Tick(context.Background())

	assert.Equal(t, 2, exchange.klinesCalls)
	assert.True(t, tr.retryAt.IsZero(), "a successful fetch clears the retry deadline")
}

func TestTick_DropsFormingBarsBeforeEvaluation(t *testing.T) {
	tr, exchange, signals, _, _ := newTestTrader(t, testConfig())
	now := time.Now()
	tr.now = func() time.Time { return now }

	klines := tickKlines(now, 100, 100, 100, 100)
	// The freshest bar is still forming.
	klines = append(klines, &domain.Kline{
		OpenTime:  now,
		CloseTime: now.Add(time.Minute),
		Close:     101,
	})
	exchange.klines = klines
	exchange.price = 100

	tr.Tick(context.Background())

	require.Len(t, signals.windows, 1)
	assert.Equal(t, 4, signals.windows[0], "the forming bar must be excluded from the signal window")
}

func TestTick_TickerFailureAlsoBacksOff(t *testing.T) {
	tr, exchange, signals, _, _ := newTestTrader(t, testConfig())
	exchange.klines = tickKlines(time.Now(), 100, 100, 100, 100)
	exchange.priceErr = errors.New("ticker down")

	tr.Tick(context.Background())

	assert.False(t, tr.retryAt.IsZero())
	assert.Empty(t, signals.windows, "no signal evaluation without a price")
}

func TestState_String(t *testing.T) {
	for state, expected := range map[State]string{
		StateFlat:    "FLAT",
		StateOpening: "OPENING",
		StateOpen:    "OPEN",
		StateClosing: "CLOSING",
		State(99):    "UNKNOWN",
	} {
		if got := state.String(); got != expected {
			t.Errorf("State(%d).String() = %q, want %q", state, got, expected)
		}
	}
}
