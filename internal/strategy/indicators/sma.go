package indicators

import (
	"fmt"

	"scalpbot/internal/domain"
)

// SMA computes the simple moving average of the closing prices of the last
// `period` klines.
func SMA(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(klines), period)
	}

	total := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		total += klines[i].Close
	}
	return total / float64(period), nil
}
