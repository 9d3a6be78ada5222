package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for an order opened with this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// EntryOrderSide returns the order side that opens a position on this side.
func (s PositionSide) EntryOrderSide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// MarginMode selects how margin is allocated for a symbol.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// PositionMode selects whether a symbol holds one net position or
// independent long/short legs.
type PositionMode string

const (
	PositionOneway PositionMode = "oneway"
	PositionHedge  PositionMode = "hedge"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonTakeProfit     CloseReason = "TP"
	CloseReasonStopLoss       CloseReason = "SL"
	CloseReasonSignalReversal CloseReason = "SIGNAL_REVERSAL"
)
