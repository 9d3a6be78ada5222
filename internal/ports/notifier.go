package ports

import "context"

// Notifier pushes a plain-text message to the operator. Delivery is
// best-effort: callers wrap Send with a short timeout and log failures
// instead of propagating them, so a broken notification channel can never
// block or fail a trading decision.
type Notifier interface {
	Send(ctx context.Context, text string) error
}
