/*
store.go - Persistence interfaces for accounts, the transaction log,
and referral edges

The Store is split the same way the data model is: mutable account rows,
an append-only transaction log, and write-once referral edges.

APPEND-ONLY CONTRACT:
  The transaction log has no Update and no Delete. The single exception
  is MarkTransaction, which performs the pending → completed/failed
  transition and MUST refuse any other.

ATOMICITY:
  Engine operations mutate an account row and append a log row together.
  TxStore.WithTx provides that: the callback runs against a Store bound
  to one storage transaction; an error rolls everything back.

IMPLEMENTATIONS:
  - ledger/store (memory.go): in-memory, for tests and dev
  - store/sqlite:             single-node production backend
  - store/postgres:           matches the original deployment
*/
package ledger

import "context"

// =============================================================================
// STORE - Accounts, transaction log, referral edges
// =============================================================================

type Store interface {
	// GetAccount returns the account or nil if it does not exist.
	GetAccount(ctx context.Context, userID string) (*Account, error)

	// CreateAccount inserts a new account. Fails if the user id exists.
	CreateAccount(ctx context.Context, a Account) error

	// SaveAccount overwrites an existing account row (balance, earnings,
	// profile fields). The account must already exist.
	SaveAccount(ctx context.Context, a Account) error

	// ListAccounts returns up to limit accounts, most recently created
	// first. limit <= 0 means no limit.
	ListAccounts(ctx context.Context, limit int) ([]Account, error)

	// AppendTransaction appends one row to the transaction log.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// GetTransaction returns the transaction or nil if it does not exist.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// MarkTransaction transitions a pending transaction to completed or
	// failed. Returns ErrTxNotFound for unknown ids and ErrTxNotPending
	// if the transaction is already terminal.
	MarkTransaction(ctx context.Context, id string, status TxStatus) error

	// ListTransactions returns up to limit transactions across all
	// accounts, most recent first. limit <= 0 means no limit.
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)

	// ListTransactionsByUser returns up to limit of one account's
	// transactions, most recent first.
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]Transaction, error)

	// GetReferrerOf returns the edge pointing at refereeID, or nil if the
	// referee has not been attributed.
	GetReferrerOf(ctx context.Context, refereeID string) (*ReferralEdge, error)

	// CreateReferral inserts a referral edge. Write-once per referee.
	CreateReferral(ctx context.Context, e ReferralEdge) error

	// CountReferralsBy returns how many accounts referrerID has referred.
	CountReferralsBy(ctx context.Context, referrerID string) (int, error)

	// Stats computes service-wide aggregates in one consistent snapshot.
	Stats(ctx context.Context) (Stats, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-write operations
// =============================================================================

// TxStore wraps Store with transaction support. The Engine requires it:
// every balance mutation pairs with a log append inside one WithTx.
type TxStore interface {
	Store

	// WithTx executes fn against a Store bound to a single storage
	// transaction. If fn returns an error the transaction is rolled
	// back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
