/*
Package ledger is the core accounting engine for the rewards service.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: per-user balance and earnings record
  - Transaction: an immutable ledger entry recording one balance change
  - ReferralEdge: attribution link between a referee and their referrer
  - Operation: a requested balance change, validated and applied by Engine

DESIGN PRINCIPLES:
  1. Immutability: transactions never change once terminal; corrections
     are new transactions, not edits
  2. Precision: money uses decimal.Decimal, never float64
  3. Derivability: Account.Balance is a cache of the sum of applied
     transaction effects and must always agree with the log

SEE ALSO:
  - engine.go: applies Operations atomically
  - store.go:  persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION - Atomic change to an account balance
// =============================================================================

type TxType string

const (
	TxWithdraw      TxType = "withdraw"       // Payout, debits balance
	TxTopup         TxType = "topup"          // Incoming transfer, credits on confirmation
	TxCardBonus     TxType = "card_bonus"     // Card signup reward
	TxReferralBonus TxType = "referral_bonus" // Reward for referring a new user
	TxAdminBonus    TxType = "admin_bonus"    // Manual credit by staff
)

// ValidTxType reports whether t is one of the known transaction types.
func ValidTxType(t TxType) bool {
	switch t {
	case TxWithdraw, TxTopup, TxCardBonus, TxReferralBonus, TxAdminBonus:
		return true
	}
	return false
}

// Sign returns the signed effect of this transaction type on the balance:
// -1 for withdraw, +1 for everything else.
func (t TxType) Sign() int {
	if t == TxWithdraw {
		return -1
	}
	return 1
}

type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
)

// Transaction records one balance-affecting event.
//
// INVARIANTS:
//   - Immutable once Status is completed or failed
//   - Only pending → completed and pending → failed transitions exist
//   - Amount is always positive; the sign of the balance effect is
//     implied by Type
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Type        TxType          `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      TxStatus        `json:"status" db:"status"`
	Description string          `json:"description" db:"description"`

	// Payout routing, set for withdrawals only.
	Phone string `json:"phone,omitempty" db:"phone"`
	Bank  string `json:"bank,omitempty" db:"bank"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Effect returns the signed balance delta of an applied transaction.
func (tx Transaction) Effect() decimal.Decimal {
	if tx.Type == TxWithdraw {
		return tx.Amount.Neg()
	}
	return tx.Amount
}

// =============================================================================
// ACCOUNT - Per-user balance and earnings record
// =============================================================================

// Account is created on first contact from a new identity and never deleted.
// Balance and the earnings counters are caches over the transaction log;
// the Engine keeps them in sync by mutating them in the same store
// transaction that appends the log row.
type Account struct {
	UserID    string `json:"user_id" db:"user_id"`
	FirstName string `json:"first_name,omitempty" db:"first_name"`
	LastName  string `json:"last_name,omitempty" db:"last_name"`
	Username  string `json:"username,omitempty" db:"username"`
	PhotoURL  string `json:"photo_url,omitempty" db:"photo_url"`

	// ReferralCode is what the user shares; the product uses the user id
	// itself as the code.
	ReferralCode string `json:"referral_code" db:"referral_code"`
	IsAdmin      bool   `json:"is_admin" db:"is_admin"`

	Balance          decimal.Decimal `json:"balance" db:"balance"`
	CardEarnings     decimal.Decimal `json:"card_earnings" db:"card_earnings"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings" db:"referral_earnings"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ChatIDPrefix distinguishes Telegram-derived account ids from any
// future identity source.
const ChatIDPrefix = "TG"

// UserIDFromChatID derives the account id for a Telegram chat id.
func UserIDFromChatID(chatID string) string {
	return ChatIDPrefix + chatID
}

// NewAccount returns a zero-balance account for userID.
func NewAccount(userID string, now time.Time) Account {
	return Account{
		UserID:           userID,
		ReferralCode:     userID,
		Balance:          decimal.Zero,
		CardEarnings:     decimal.Zero,
		ReferralEarnings: decimal.Zero,
		CreatedAt:        now,
	}
}

// =============================================================================
// REFERRAL EDGE - Attribution link between two accounts
// =============================================================================

// ReferralEdge links a referee to the account that referred them.
//
// INVARIANTS:
//   - A referee has at most one referrer
//   - Self-referral is forbidden
//   - Created exactly once, at the referee's first attribution
type ReferralEdge struct {
	ID         string    `json:"id" db:"id"`
	ReferrerID string    `json:"referrer_id" db:"referrer_id"`
	RefereeID  string    `json:"referee_id" db:"referee_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// =============================================================================
// OPERATION - A requested balance change
// =============================================================================

// Operation is the input to Engine.Apply. Amount must be positive; the
// engine derives the signed effect from Type.
type Operation struct {
	UserID      string
	Type        TxType
	Amount      decimal.Decimal
	Description string

	// Withdraw routing.
	Phone string
	Bank  string
}

// =============================================================================
// STATS - Aggregate view for the admin surface
// =============================================================================

// Stats is a consistent snapshot of service-wide aggregates.
// Withdrawal and topup totals count completed transactions only.
type Stats struct {
	TotalUsers       int             `json:"totalUsers"`
	TotalBalance     decimal.Decimal `json:"totalBalance"`
	TotalWithdrawals int             `json:"totalWithdrawals"`
	TotalTopups      int             `json:"totalTopups"`
	TotalReferrals   int             `json:"totalReferrals"`
}
