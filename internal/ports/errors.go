package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these sentinels so the
// core can classify failures with errors.Is without knowing the exchange.
var (
	// ErrConfiguration marks an invalid or missing required parameter.
	// Fatal at startup; the process must not begin trading.
	ErrConfiguration = errors.New("invalid or missing configuration")

	// ErrMarketData marks a transient failure fetching candles or price.
	// Recovered by skipping the symbol's tick with exponential backoff.
	ErrMarketData = errors.New("market data fetch failed")

	// ErrSizing marks a computed order quantity that is non-positive.
	// The trade is skipped and the operator notified; never fatal.
	ErrSizing = errors.New("order size is not positive")

	// ErrOrderFailed marks a rejected or timed-out order submission.
	// The state machine stays in its pre-transition state and retries.
	ErrOrderFailed = errors.New("order submission failed")

	// ErrRateLimited is a distinguished throttling subtype of market-data
	// and order errors; it triggers a longer symbol-specific cooldown.
	ErrRateLimited = errors.New("API rate limit exceeded")

	// Exchange connectivity and auth errors surfaced by the adapter.
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrInvalidRequest       = errors.New("invalid request parameters or format")
	ErrTimeout              = errors.New("operation timed out")
	ErrContextCanceled      = errors.New("operation canceled via context")
)
