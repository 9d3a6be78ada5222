// Package app contains the orchestrator: it runs one trader per configured
// symbol concurrently on a fixed polling cadence, fans their lifecycle
// events in to the notifier, and emits liveness heartbeats.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"scalpbot/config"
	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
	"scalpbot/internal/trader"
)

const (
	eventBufferSize = 64
	notifyTimeout   = 5 * time.Second
	minTickTimeout  = 30 * time.Second
)

// Service orchestrates the trading bot's operations.
type Service struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	notifier ports.Notifier
	signals  ports.SignalEngine

	events    chan domain.Event
	traders   []*trader.Trader
	startedAt time.Time
}

// NewService creates a new orchestrator instance.
func NewService(cfg *config.Config, logger ports.Logger, exchange ports.ExchangeClient, notifier ports.Notifier, signals ports.SignalEngine) (*Service, error) {
	if cfg == nil || logger == nil || exchange == nil || notifier == nil || signals == nil {
		return nil, fmt.Errorf("missing required dependencies for orchestrator")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols configured", ports.ErrConfiguration)
	}
	return &Service{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		notifier: notifier,
		signals:  signals,
		events:   make(chan domain.Event, eventBufferSize),
	}, nil
}

// Start runs the orchestration loop until the context is cancelled or a
// SIGINT/SIGTERM arrives. It returns an error only for unrecoverable
// startup failures; once trading units are running, all failures are
// contained per symbol.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting orchestrator...", map[string]interface{}{
		"symbols": s.cfg.Symbols, "timeframe": s.cfg.Timeframe, "pollInterval": s.cfg.PollInterval.String(),
	})
	s.startedAt = time.Now().UTC()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	traders, err := s.setup(ctx)
	if err != nil {
		return err
	}
	s.traders = traders

	// Event fan-in must outlive the traders so no event is lost during
	// shutdown; it stops when the channel is drained and closed.
	consumerDone := make(chan struct{})
	go s.consumeEvents(consumerDone)

	s.notify(fmt.Sprintf("🚀 Bot started: symbols=%v timeframe=%s testnet=%t",
		s.cfg.Symbols, s.cfg.Timeframe, s.cfg.IsTestnet))

	var wg sync.WaitGroup
	for _, tr := range traders {
		wg.Add(1)
		go s.runTrader(ctx, tr, &wg)
	}
	wg.Add(1)
	go s.runHeartbeat(ctx, &wg)

	<-ctx.Done()
	s.logger.Info(ctx, "Stop signal observed, waiting for in-flight ticks...")
	wg.Wait()
	close(s.events)
	<-consumerDone

	s.logger.Info(ctx, "Orchestrator stopped.")
	return nil
}

// setup performs the startup sequence: connectivity check, account
// readout, exchange mode configuration, and per-symbol trader construction.
// Only connectivity, configuration, and precision failures are fatal.
func (s *Service) setup(ctx context.Context) ([]*trader.Trader, error) {
	if err := s.exchange.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Cannot reach exchange")
		return nil, fmt.Errorf("exchange connectivity check failed: %w", err)
	}

	if balance, err := s.exchange.GetAccountBalance(ctx, "USDT"); err != nil {
		s.logger.Warn(ctx, "Could not read USDT balance", map[string]interface{}{"error": err.Error()})
	} else {
		s.logger.Info(ctx, "Account balance", map[string]interface{}{"asset": "USDT", "balance": balance})
	}

	// Exchanges reject redundant mode settings; warn and continue.
	if err := s.exchange.SetPositionMode(ctx, s.cfg.PositionMode); err != nil {
		s.logger.Warn(ctx, "Could not set position mode", map[string]interface{}{
			"mode": s.cfg.PositionMode, "error": err.Error(),
		})
	}

	traders := make([]*trader.Trader, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		precision, err := s.exchange.GetPrecision(ctx, symbol)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to fetch instrument precision", map[string]interface{}{"symbol": symbol})
			return nil, fmt.Errorf("precision lookup for %s failed: %w", symbol, err)
		}

		if err := s.exchange.SetLeverage(ctx, symbol, s.cfg.Leverage); err != nil {
			s.logger.Warn(ctx, "Could not set leverage", map[string]interface{}{
				"symbol": symbol, "leverage": s.cfg.Leverage, "error": err.Error(),
			})
		}
		if err := s.exchange.SetMarginMode(ctx, symbol, s.cfg.MarginMode); err != nil {
			s.logger.Warn(ctx, "Could not set margin mode", map[string]interface{}{
				"symbol": symbol, "mode": s.cfg.MarginMode, "error": err.Error(),
			})
		}

		tr, err := trader.New(trader.Config{
			Symbol:            symbol,
			Timeframe:         s.cfg.Timeframe,
			Leverage:          s.cfg.Leverage,
			MaxNotionalUSDT:   s.cfg.MaxNotionalUSDT,
			TakeProfitPct:     s.cfg.TakeProfitPct,
			StopLossPct:       s.cfg.StopLossPct,
			MaxOrderFailures:  s.cfg.MaxOrderFailures,
			RateLimitCooldown: s.cfg.RateLimitCooldown,
		}, s.exchange, s.signals, *precision, s.logger, s.events)
		if err != nil {
			return nil, fmt.Errorf("%w: trader setup for %s: %v", ports.ErrConfiguration, symbol, err)
		}
		traders = append(traders, tr)
		s.logger.Info(ctx, "Trader initialized", map[string]interface{}{"symbol": symbol})
	}
	return traders, nil
}

// runTrader ticks one symbol on the shared polling cadence. Ticks are
// strictly sequential for the symbol: the next tick cannot start before the
// previous one (including any order submission) has completed.
func (s *Service) runTrader(ctx context.Context, tr *trader.Trader, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.tick(tr)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(tr)
		}
	}
}

// tick runs one evaluation on a context detached from the shutdown signal:
// a submitted order must always be confirmed, so cancellation only prevents
// new ticks from being scheduled, never aborts one mid-flight.
func (s *Service) tick(tr *trader.Trader) {
	timeout := s.cfg.PollInterval
	if timeout < minTickTimeout {
		timeout = minTickTimeout
	}
	tickCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	tr.Tick(tickCtx)
}

// runHeartbeat emits a liveness event on its own slower cadence, regardless
// of trading activity.
func (s *Service) runHeartbeat(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uptime := time.Since(s.startedAt).Round(time.Second)
			ev := domain.Event{
				Time: time.Now().UTC(),
				Kind: domain.EventHeartbeat,
				Message: fmt.Sprintf("✅ Bot alive: uptime=%s open_positions=%d",
					uptime, s.countOpenPositions()),
			}
			select {
			case s.events <- ev:
			default:
				s.logger.Warn(ctx, "Event channel full, heartbeat dropped")
			}
		}
	}
}

// countOpenPositions reads each trader's concurrent-safe open flag. The
// count is derived from trader state rather than from lifecycle events,
// which may be dropped under a full event channel.
func (s *Service) countOpenPositions() int {
	n := 0
	for _, tr := range s.traders {
		if tr.IsOpen() {
			n++
		}
	}
	return n
}

// consumeEvents forwards every lifecycle event to the notifier. Runs until
// the events channel is closed after all traders have stopped.
func (s *Service) consumeEvents(done chan<- struct{}) {
	defer close(done)
	for ev := range s.events {
		s.notify(ev.Message)
	}
}

// notify pushes a message to the operator, bounded by a short timeout.
// Notification failures are logged and swallowed; they never affect trading.
func (s *Service) notify(message string) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.Send(ctx, message); err != nil {
		s.logger.Warn(ctx, "Notification delivery failed", map[string]interface{}{
			"message": message, "error": err.Error(),
		})
	}
}
