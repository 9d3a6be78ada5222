package ports

import "scalpbot/internal/domain"

// SignalEngine derives a directional signal from a window of closed klines.
// Implementations must be pure: no side effects, deterministic for
// identical input.
type SignalEngine interface {
	// RequiredDataPoints returns the minimum number of closed klines needed
	// to produce a signal.
	RequiredDataPoints() int

	// Evaluate computes the signal for the latest closed bar.
	Evaluate(klines []*domain.Kline) domain.Signal
}
