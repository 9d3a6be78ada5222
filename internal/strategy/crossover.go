package strategy

import (
	"fmt"

	"scalpbot/internal/domain"
	"scalpbot/internal/strategy/indicators"
)

// Crossover derives a directional signal from the crossing of a fast and a
// slow simple moving average over closed klines. Evaluation is a pure
// function of the kline window: the previous SMA pair is recomputed from
// the window rather than carried between ticks, so identical input always
// yields the identical signal.
type Crossover struct {
	fastLen int
	slowLen int
}

// Config holds the crossover window lengths.
type Config struct {
	FastLength int
	SlowLength int
}

// NewCrossover validates the window lengths and builds the signal engine.
func NewCrossover(cfg Config) (*Crossover, error) {
	if cfg.FastLength <= 0 || cfg.SlowLength <= 0 {
		return nil, fmt.Errorf("SMA lengths must be positive (fast=%d, slow=%d)", cfg.FastLength, cfg.SlowLength)
	}
	if cfg.FastLength >= cfg.SlowLength {
		return nil, fmt.Errorf("fast SMA length (%d) must be less than slow SMA length (%d)", cfg.FastLength, cfg.SlowLength)
	}
	return &Crossover{fastLen: cfg.FastLength, slowLen: cfg.SlowLength}, nil
}

// RequiredDataPoints returns the minimum number of closed klines needed to
// detect a crossover edge: the slow window plus the bar before the latest.
func (c *Crossover) RequiredDataPoints() int {
	return c.slowLen + 1
}

// Evaluate returns SignalBuy when the fast SMA crosses above the slow SMA
// between the previous and the latest closed bar, SignalSell on the
// symmetric downward cross, and SignalNone otherwise (including when the
// window is too short).
func (c *Crossover) Evaluate(klines []*domain.Kline) domain.Signal {
	if len(klines) < c.RequiredDataPoints() {
		return domain.SignalNone
	}

	prev := klines[:len(klines)-1]

	// Window length is checked above, the SMA calls cannot fail.
	fastPrev, _ := indicators.SMA(prev, c.fastLen)
	slowPrev, _ := indicators.SMA(prev, c.slowLen)
	fastNow, _ := indicators.SMA(klines, c.fastLen)
	slowNow, _ := indicators.SMA(klines, c.slowLen)

	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		return domain.SignalBuy
	case fastPrev >= slowPrev && fastNow < slowNow:
		return domain.SignalSell
	default:
		return domain.SignalNone
	}
}
