package domain

import "github.com/shopspring/decimal"

// InstrumentPrecision holds the exchange-imposed rounding steps for a
// symbol. Fetched once at startup and cached for the process lifetime;
// safe for unsynchronized concurrent reads after that.
type InstrumentPrecision struct {
	QuantityStep decimal.Decimal // Minimum quantity increment (LOT_SIZE step)
	PriceStep    decimal.Decimal // Minimum price increment (tick size)
}
