package domain

// Signal is the directional output of the signal engine. It is derived,
// stateless, and recomputed every tick from the latest candle window.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

// String returns the string representation of the Signal.
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "NONE"
	}
}
