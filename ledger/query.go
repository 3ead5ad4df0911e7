/*
query.go - Read-only aggregation over accounts and the transaction log

Queries never mutate state. Aggregates come back from a single store
snapshot, so one response cannot mix pre- and post-mutation state: the
SQL backends compute Stats inside one transaction, the memory backend
under one read lock.
*/
package ledger

import (
	"context"
	"fmt"
)

// DefaultListLimit is applied when a listing request gives no limit.
const DefaultListLimit = 50

// =============================================================================
// QUERY SERVICE
// =============================================================================

type Queries struct {
	Store Store
}

func NewQueries(store Store) *Queries {
	return &Queries{Store: store}
}

// Stats returns service-wide aggregates from one consistent snapshot.
func (q *Queries) Stats(ctx context.Context) (Stats, error) {
	stats, err := q.Store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// ListUsers returns accounts, most recently created first.
func (q *Queries) ListUsers(ctx context.Context, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	accounts, err := q.Store.ListAccounts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return accounts, nil
}

// ListTransactions returns transactions across all accounts, most
// recent first.
func (q *Queries) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	txs, err := q.Store.ListTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// UserSummary is the account view returned to the account's owner:
// the account, its recent transactions and how many signups it referred.
type UserSummary struct {
	Account       Account
	Transactions  []Transaction
	ReferralCount int
}

// Summary assembles the owner-facing view of one account. recentLimit
// caps the transaction list (the product shows the last 10).
func (q *Queries) Summary(ctx context.Context, userID string, recentLimit int) (*UserSummary, error) {
	a, err := q.Store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if a == nil {
		return nil, ErrNotFound
	}

	txs, err := q.Store.ListTransactionsByUser(ctx, userID, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("summary: transactions: %w", err)
	}

	n, err := q.Store.CountReferralsBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("summary: referrals: %w", err)
	}

	return &UserSummary{Account: *a, Transactions: txs, ReferralCount: n}, nil
}
