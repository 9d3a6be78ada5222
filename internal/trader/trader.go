// Package trader implements the per-symbol position lifecycle manager: a
// state machine that decides, once per tick, whether to open, hold, or
// close a position based on the crossover signal and live TP/SL thresholds.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
	"scalpbot/internal/risk"
)

// State identifies the position of the lifecycle state machine. OPENING and
// CLOSING are transient: an order is confirmed or rejected within the same
// tick, so only FLAT and OPEN survive between ticks.
type State int

const (
	StateFlat State = iota
	StateOpening
	StateOpen
	StateClosing
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateFlat:
		return "FLAT"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

const (
	fetchBackoffMin = 2 * time.Second
	fetchBackoffMax = 2 * time.Minute
	minKlineLimit   = 200
)

// Config is the immutable per-symbol parameter set, created once at startup
// from external configuration and never mutated.
type Config struct {
	Symbol            string
	Timeframe         string
	Leverage          int
	MaxNotionalUSDT   float64
	TakeProfitPct     float64
	StopLossPct       float64
	MaxOrderFailures  int           // consecutive order failures before escalation
	RateLimitCooldown time.Duration // cooldown after a throttling response
}

// Trader owns the full trading state for one symbol. It is not safe for
// concurrent use: the orchestrator guarantees ticks are strictly sequential,
// so no internal locking is needed.
type Trader struct {
	cfg       Config
	exchange  ports.ExchangeClient
	signals   ports.SignalEngine
	logger    ports.Logger
	events    chan<- domain.Event
	precision domain.InstrumentPrecision

	state         State
	position      *domain.Position
	open          atomic.Bool // mirrors state==OPEN for concurrent readers
	fetchBackoff  *backoff.Backoff
	retryAt       time.Time // next tick allowed at or after this instant
	orderFailures int
	klineLimit    int

	now func() time.Time
}

// New validates the per-symbol configuration and builds a trader in the
// FLAT state.
func New(cfg Config, exchange ports.ExchangeClient, signals ports.SignalEngine, precision domain.InstrumentPrecision, logger ports.Logger, events chan<- domain.Event) (*Trader, error) {
	if exchange == nil || signals == nil || logger == nil || events == nil {
		return nil, fmt.Errorf("missing required dependencies for trader")
	}
	if cfg.Symbol == "" || cfg.Timeframe == "" {
		return nil, fmt.Errorf("symbol and timeframe are required")
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive")
	}
	if cfg.MaxNotionalUSDT <= 0 {
		return nil, fmt.Errorf("max notional must be positive")
	}
	if cfg.TakeProfitPct <= 0 || cfg.TakeProfitPct >= 1 || cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1 {
		return nil, fmt.Errorf("TP/SL fractions must be between 0 and 1 (exclusive)")
	}
	if cfg.MaxOrderFailures <= 0 {
		return nil, fmt.Errorf("max order failures must be positive")
	}
	if precision.QuantityStep.Sign() <= 0 {
		return nil, fmt.Errorf("quantity step must be positive")
	}

	klineLimit := signals.RequiredDataPoints() + 2 // slack for the forming bar
	if klineLimit < minKlineLimit {
		klineLimit = minKlineLimit
	}

	return &Trader{
		cfg:       cfg,
		exchange:  exchange,
		signals:   signals,
		logger:    logger,
		events:    events,
		precision: precision,
		state:     StateFlat,
		fetchBackoff: &backoff.Backoff{
			Min:    fetchBackoffMin,
			Max:    fetchBackoffMax,
			Factor: 2,
			Jitter: true,
		},
		klineLimit: klineLimit,
		now:        time.Now,
	}, nil
}

// State returns the current lifecycle state.
func (t *Trader) State() State { return t.state }

// Position returns the currently held position, or nil when flat. The
// returned value must only be read on the trader's own tick sequence.
func (t *Trader) Position() *domain.Position { return t.position }

// IsOpen reports whether the trader currently holds a confirmed position.
// Unlike State and Position it is safe to call from other goroutines; the
// orchestrator's heartbeat derives its open-position count from it, so the
// count can never drift even if a lifecycle event is dropped.
func (t *Trader) IsOpen() bool { return t.open.Load() }

// Tick performs one full evaluation cycle: fetch candles and last price,
// compute the signal over closed bars, and step the state machine. All
// failures are contained; Tick never panics or propagates errors to the
// orchestrator.
func (t *Trader) Tick(ctx context.Context) {
	now := t.now()
	if now.Before(t.retryAt) {
		t.logger.Debug(ctx, "Tick skipped, backing off", map[string]interface{}{
			"symbol": t.cfg.Symbol, "retryAt": t.retryAt.Format(time.RFC3339),
		})
		return
	}

	klines, err := t.exchange.GetKlines(ctx, t.cfg.Symbol, t.cfg.Timeframe, t.klineLimit)
	if err != nil {
		t.fetchFailed(ctx, err)
		return
	}
	price, err := t.exchange.GetTickerPrice(ctx, t.cfg.Symbol)
	if err != nil {
		t.fetchFailed(ctx, err)
		return
	}

	// A successful fetch resets the backoff schedule.
	t.fetchBackoff.Reset()
	t.retryAt = time.Time{}

	sig := t.signals.Evaluate(closedKlines(klines, now))
	t.Step(ctx, sig, price)
}

// Step advances the state machine with the tick's signal and last traded
// price. Exposed separately from Tick so transitions can be driven directly
// in tests.
func (t *Trader) Step(ctx context.Context, sig domain.Signal, price float64) {
	switch t.state {
	case StateOpen:
		t.manageOpen(ctx, sig, price)
	case StateFlat:
		t.maybeOpen(ctx, sig, price)
	default:
		// OPENING/CLOSING are never observable between ticks.
		t.logger.Warn(ctx, "Tick in transient state, ignoring", map[string]interface{}{
			"symbol": t.cfg.Symbol, "state": t.state.String(),
		})
	}
}

// maybeOpen evaluates an entry from FLAT: size the order under the risk
// budget, submit a market order, and commit OPEN only after confirmation.
func (t *Trader) maybeOpen(ctx context.Context, sig domain.Signal, price float64) {
	if sig == domain.SignalNone {
		return
	}

	side := domain.SideLong
	if sig == domain.SignalSell {
		side = domain.SideShort
	}

	qty, err := risk.Size(t.cfg.MaxNotionalUSDT, t.cfg.Leverage, price, t.precision.QuantityStep)
	if err != nil {
		t.logger.Warn(ctx, "Trade skipped, sizing failed", map[string]interface{}{
			"symbol": t.cfg.Symbol, "price": price, "error": err.Error(),
		})
		t.emit(domain.EventError, fmt.Sprintf("⚠️ %s: trade skipped, %v", t.cfg.Symbol, err))
		return
	}

	t.state = StateOpening
	res, err := t.exchange.PlaceMarketOrder(ctx, t.cfg.Symbol, side.EntryOrderSide(), qty.String(), false)
	if err != nil {
		// No partial state is retained after a failed entry.
		t.state = StateFlat
		t.orderFailed(ctx, "entry", err)
		return
	}

	entry := res.AvgPrice
	if entry == 0 {
		t.logger.Warn(ctx, "Entry fill price unreported, using last traded price", map[string]interface{}{
			"symbol": t.cfg.Symbol, "orderID": res.OrderID, "fallbackPrice": price,
		})
		entry = price
	}

	var tp, sl float64
	if side == domain.SideLong {
		tp = risk.QuantizePrice(entry*(1+t.cfg.TakeProfitPct), t.precision.PriceStep)
		sl = risk.QuantizePrice(entry*(1-t.cfg.StopLossPct), t.precision.PriceStep)
	} else {
		tp = risk.QuantizePrice(entry*(1-t.cfg.TakeProfitPct), t.precision.PriceStep)
		sl = risk.QuantizePrice(entry*(1+t.cfg.StopLossPct), t.precision.PriceStep)
	}

	t.position = &domain.Position{
		Symbol:     t.cfg.Symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   qty,
		Leverage:   t.cfg.Leverage,
		TakeProfit: tp,
		StopLoss:   sl,
		OpenedAt:   t.now(),
	}
	t.state = StateOpen
	t.open.Store(true)
	t.orderFailures = 0

	t.logger.Info(ctx, "Position opened", map[string]interface{}{
		"symbol": t.cfg.Symbol, "side": side, "quantity": qty.String(),
		"entry": entry, "takeProfit": tp, "stopLoss": sl, "orderID": res.OrderID,
	})
	t.emit(domain.EventOpened, fmt.Sprintf("🟢 Opened %s %s qty=%s entry=%v tp=%v sl=%v",
		side, t.cfg.Symbol, qty.String(), entry, tp, sl))
}

// manageOpen evaluates exit conditions for an OPEN position. TP is checked
// first, then SL, then signal reversal, so the reported close reason is
// deterministic when several conditions hold in the same tick.
func (t *Trader) manageOpen(ctx context.Context, sig domain.Signal, price float64) {
	reason := t.closeReason(sig, price)
	if reason == "" {
		return
	}

	pos := t.position
	t.state = StateClosing
	res, err := t.exchange.PlaceMarketOrder(ctx, t.cfg.Symbol, pos.Side.EntryOrderSide().Opposite(), pos.Quantity.String(), true)
	if err != nil {
		// The position is not closed until the exchange confirms; stay
		// OPEN and retry on the next tick.
		t.state = StateOpen
		t.orderFailed(ctx, "close", err)
		return
	}

	exit := res.AvgPrice
	if exit == 0 {
		t.logger.Warn(ctx, "Close fill price unreported, using last traded price", map[string]interface{}{
			"symbol": t.cfg.Symbol, "orderID": res.OrderID, "fallbackPrice": price,
		})
		exit = price
	}
	pnl := pos.UnrealizedPNL(exit)

	t.position = nil
	t.state = StateFlat
	t.open.Store(false)
	t.orderFailures = 0

	t.logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol": t.cfg.Symbol, "side": pos.Side, "quantity": pos.Quantity.String(),
		"entry": pos.EntryPrice, "exit": exit, "reason": reason, "pnl": pnl, "orderID": res.OrderID,
	})
	t.emit(domain.EventClosed, fmt.Sprintf("🔴 Closed %s %s qty=%s entry=%v exit=%v reason=%s pnl=%.4f USDT (est)",
		pos.Side, t.cfg.Symbol, pos.Quantity.String(), pos.EntryPrice, exit, reason, pnl))
}

// closeReason returns the reason the open position should be closed this
// tick, or "" to keep holding. TP/SL thresholds were fixed at entry.
func (t *Trader) closeReason(sig domain.Signal, price float64) domain.CloseReason {
	pos := t.position
	if pos.Side == domain.SideLong {
		switch {
		case price >= pos.TakeProfit:
			return domain.CloseReasonTakeProfit
		case price <= pos.StopLoss:
			return domain.CloseReasonStopLoss
		case sig == domain.SignalSell:
			return domain.CloseReasonSignalReversal
		}
		return ""
	}
	switch {
	case price <= pos.TakeProfit:
		return domain.CloseReasonTakeProfit
	case price >= pos.StopLoss:
		return domain.CloseReasonStopLoss
	case sig == domain.SignalBuy:
		return domain.CloseReasonSignalReversal
	}
	return ""
}

// fetchFailed schedules the next attempt for this symbol with exponential
// backoff, or the fixed rate-limit cooldown for throttling responses. The
// failure is contained to this symbol.
func (t *Trader) fetchFailed(ctx context.Context, err error) {
	delay := t.fetchBackoff.Duration()
	if errors.Is(err, ports.ErrRateLimited) {
		delay = t.cfg.RateLimitCooldown
	}
	t.retryAt = t.now().Add(delay)

	t.logger.Warn(ctx, "Market data fetch failed, tick skipped", map[string]interface{}{
		"symbol": t.cfg.Symbol, "retryIn": delay.String(), "error": err.Error(),
	})
	t.emit(domain.EventError, fmt.Sprintf("⚠️ %s: market data unavailable, next attempt in %s", t.cfg.Symbol, delay.Round(time.Second)))
}

// orderFailed records a failed order submission. Every failure emits one
// error event; crossing the consecutive-failure threshold escalates once
// with a distinct message, but trading stays enabled (a human resolves
// persistent order failures).
func (t *Trader) orderFailed(ctx context.Context, action string, err error) {
	t.orderFailures++
	if errors.Is(err, ports.ErrRateLimited) {
		t.retryAt = t.now().Add(t.cfg.RateLimitCooldown)
	}

	t.logger.Error(ctx, err, "Order submission failed", map[string]interface{}{
		"symbol": t.cfg.Symbol, "action": action, "consecutiveFailures": t.orderFailures,
	})
	t.emit(domain.EventError, fmt.Sprintf("⚠️ %s: %s order failed: %v", t.cfg.Symbol, action, err))

	if t.orderFailures == t.cfg.MaxOrderFailures {
		t.emit(domain.EventError, fmt.Sprintf("⚠️ %s: %d consecutive order failures, manual intervention may be required",
			t.cfg.Symbol, t.orderFailures))
	}
}

// emit sends a lifecycle event to the orchestrator without ever blocking a
// trading decision; if the supervisor cannot keep up the event is dropped.
func (t *Trader) emit(kind domain.EventKind, message string) {
	ev := domain.Event{Time: t.now(), Kind: kind, Symbol: t.cfg.Symbol, Message: message}
	select {
	case t.events <- ev:
	default:
		t.logger.Warn(context.Background(), "Event channel full, event dropped", map[string]interface{}{
			"symbol": t.cfg.Symbol, "message": message,
		})
	}
}

// closedKlines drops any still-forming bars from the end of the window so
// signals never act on incomplete data.
func closedKlines(klines []*domain.Kline, now time.Time) []*domain.Kline {
	n := len(klines)
	for n > 0 && !klines[n-1].IsClosed(now) {
		n--
	}
	return klines[:n]
}
