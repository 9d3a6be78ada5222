package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents the single open position a symbol's trader may hold.
// It is owned exclusively by one trader instance and never shared across
// symbols or goroutines; all state is in-memory and lost on restart.
type Position struct {
	Symbol     string          // Trading symbol (e.g., "BTCUSDT")
	Side       PositionSide    // LONG or SHORT
	EntryPrice float64         // Confirmed fill price at entry
	Quantity   decimal.Decimal // Size, an exact multiple of the instrument's quantity step
	Leverage   int             // Leverage used for the position
	TakeProfit float64         // Fixed at entry, never recomputed while open
	StopLoss   float64         // Fixed at entry, never recomputed while open
	OpenedAt   time.Time       // Timestamp when the entry order was confirmed
}

// UnrealizedPNL estimates the profit or loss at the given price, before fees.
func (p *Position) UnrealizedPNL(price float64) float64 {
	qty := p.Quantity.InexactFloat64()
	if p.Side == SideShort {
		return (p.EntryPrice - price) * qty
	}
	return (price - p.EntryPrice) * qty
}
