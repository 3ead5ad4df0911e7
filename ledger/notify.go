package ledger

import "context"

// Notifier receives post-commit events for completed transactions.
// Implementations must be safe for concurrent use and must not block
// ledger operations on delivery failures.
type Notifier interface {
	TransactionCompleted(ctx context.Context, tx Transaction)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) TransactionCompleted(context.Context, Transaction) {}
