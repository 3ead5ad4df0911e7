/*
engine.go - Applies balance-affecting operations atomically

The Engine is the only writer of account balances. Every operation:

  1. Validates input (type, positive amount)
  2. Takes the per-account lock (bounded wait, ErrBusy on timeout)
  3. Inside one store transaction: re-reads the account, checks business
     rules against the fresh balance, mutates the row, appends the log row
  4. Commits, then notifies best-effort

Because the funds check happens under the lock AND inside the storage
transaction, two racing withdrawals cannot both pass it.

TOP-UPS:
  A topup request only creates a pending transaction; the credit lands
  when staff confirm the incoming transfer (ConfirmTopup). FailTopup
  records a rejected transfer. Terminal transactions are immutable.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Bonus amounts observed in the product. Deployments may override them
// through config; the constants are the defaults.
var (
	DefaultCardBonus     = decimal.NewFromInt(500)
	DefaultReferralBonus = decimal.NewFromInt(200)
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store    TxStore
	Locks    *LockTable
	Notifier Notifier

	// CardBonus is the one-time signup reward credited by ClaimCardBonus.
	CardBonus decimal.Decimal

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

// NewEngine creates an engine over the given store with default locking,
// bonus amounts and a noop notifier.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store:     store,
		Locks:     NewLockTable(0),
		Notifier:  NopNotifier{},
		CardBonus: DefaultCardBonus,
		Now:       time.Now,
	}
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

// EnsureAccount returns the account for userID, creating a zero-balance
// one on first contact.
func (e *Engine) EnsureAccount(ctx context.Context, userID string) (*Account, error) {
	if a, err := e.Store.GetAccount(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	} else if a != nil {
		return a, nil
	}

	release, err := e.Locks.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-check under the lock; another request may have created it.
	a, err := e.Store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	if a != nil {
		return a, nil
	}

	acct := NewAccount(userID, e.Now().UTC())
	if err := e.Store.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("ensure account: create: %w", err)
	}
	log.WithField("user_id", userID).Info("account created")
	return &acct, nil
}

// Profile carries the identity fields refreshed at login.
type Profile struct {
	FirstName string
	LastName  string
	Username  string
	PhotoURL  string
	IsAdmin   bool
}

// SyncProfile creates the account if needed and refreshes its profile
// fields, including the persisted admin flag.
func (e *Engine) SyncProfile(ctx context.Context, userID string, p Profile) (*Account, error) {
	release, err := e.Locks.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := e.Store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sync profile: %w", err)
	}
	if a == nil {
		acct := NewAccount(userID, e.Now().UTC())
		a = &acct
		if err := e.Store.CreateAccount(ctx, *a); err != nil {
			return nil, fmt.Errorf("sync profile: create: %w", err)
		}
	}

	a.FirstName = p.FirstName
	a.LastName = p.LastName
	a.Username = p.Username
	a.PhotoURL = p.PhotoURL
	a.IsAdmin = p.IsAdmin
	if err := e.Store.SaveAccount(ctx, *a); err != nil {
		return nil, fmt.Errorf("sync profile: save: %w", err)
	}
	return a, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Apply validates and applies an operation, returning the transaction it
// produced. Withdrawals and bonuses complete immediately; topups come
// back pending and credit nothing until confirmed.
func (e *Engine) Apply(ctx context.Context, op Operation) (*Transaction, error) {
	if !ValidTxType(op.Type) {
		return nil, ErrInvalidType
	}
	if !op.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	release, err := e.Locks.Acquire(ctx, op.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	var applied *Transaction
	err = e.Store.WithTx(ctx, func(s Store) error {
		tx, err := e.apply(ctx, s, op)
		if err != nil {
			return err
		}
		applied = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logApplied(*applied)
	if applied.Status == StatusCompleted {
		e.notify(*applied)
	}
	return applied, nil
}

// apply runs the per-type rules. The caller holds the account lock and
// s is bound to an open storage transaction.
func (e *Engine) apply(ctx context.Context, s Store, op Operation) (*Transaction, error) {
	a, err := s.GetAccount(ctx, op.UserID)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", op.Type, err)
	}
	if a == nil {
		return nil, ErrNotFound
	}

	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      op.UserID,
		Type:        op.Type,
		Amount:      op.Amount,
		Status:      StatusCompleted,
		Description: op.Description,
		Phone:       op.Phone,
		Bank:        op.Bank,
		CreatedAt:   e.Now().UTC(),
	}

	switch op.Type {
	case TxWithdraw:
		if op.Amount.GreaterThan(a.Balance) {
			return nil, &InsufficientFundsError{
				UserID:    op.UserID,
				Available: a.Balance,
				Requested: op.Amount,
			}
		}
		a.Balance = a.Balance.Sub(op.Amount)

	case TxTopup:
		// No credit until staff confirm the incoming transfer.
		tx.Status = StatusPending

	case TxCardBonus:
		a.Balance = a.Balance.Add(op.Amount)
		a.CardEarnings = a.CardEarnings.Add(op.Amount)

	case TxReferralBonus:
		a.Balance = a.Balance.Add(op.Amount)
		a.ReferralEarnings = a.ReferralEarnings.Add(op.Amount)

	case TxAdminBonus:
		a.Balance = a.Balance.Add(op.Amount)
	}

	if tx.Status == StatusCompleted {
		if err := s.SaveAccount(ctx, *a); err != nil {
			return nil, fmt.Errorf("apply %s: save account: %w", op.Type, err)
		}
	}
	if err := s.AppendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("apply %s: append: %w", op.Type, err)
	}
	return &tx, nil
}

// ClaimCardBonus credits the one-time card signup reward. A second claim
// fails with ErrBonusAlreadyClaimed.
func (e *Engine) ClaimCardBonus(ctx context.Context, userID string) (*Transaction, error) {
	release, err := e.Locks.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	var applied *Transaction
	err = e.Store.WithTx(ctx, func(s Store) error {
		txs, err := s.ListTransactionsByUser(ctx, userID, 0)
		if err != nil {
			return fmt.Errorf("claim card bonus: %w", err)
		}
		for _, tx := range txs {
			if tx.Type == TxCardBonus && tx.Status == StatusCompleted {
				return ErrBonusAlreadyClaimed
			}
		}

		tx, err := e.apply(ctx, s, Operation{
			UserID:      userID,
			Type:        TxCardBonus,
			Amount:      e.CardBonus,
			Description: "Card signup bonus",
		})
		if err != nil {
			return err
		}
		applied = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logApplied(*applied)
	e.notify(*applied)
	return applied, nil
}

// =============================================================================
// TOP-UP CONFIRMATION
// =============================================================================

// ConfirmTopup transitions a pending topup to completed and credits the
// balance, atomically.
func (e *Engine) ConfirmTopup(ctx context.Context, txID string) (*Transaction, error) {
	return e.settleTopup(ctx, txID, StatusCompleted)
}

// FailTopup transitions a pending topup to failed. No balance change.
func (e *Engine) FailTopup(ctx context.Context, txID string) (*Transaction, error) {
	return e.settleTopup(ctx, txID, StatusFailed)
}

func (e *Engine) settleTopup(ctx context.Context, txID string, status TxStatus) (*Transaction, error) {
	tx, err := e.Store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("settle topup: %w", err)
	}
	if tx == nil {
		return nil, ErrTxNotFound
	}
	if tx.Type != TxTopup {
		return nil, ErrTxNotPending
	}

	release, err := e.Locks.Acquire(ctx, tx.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = e.Store.WithTx(ctx, func(s Store) error {
		// Re-read under the lock; a racing confirmation may have won.
		cur, err := s.GetTransaction(ctx, txID)
		if err != nil {
			return fmt.Errorf("settle topup: %w", err)
		}
		if cur == nil {
			return ErrTxNotFound
		}
		if cur.Status != StatusPending {
			return ErrTxNotPending
		}

		if err := s.MarkTransaction(ctx, txID, status); err != nil {
			return fmt.Errorf("settle topup: mark: %w", err)
		}

		if status == StatusCompleted {
			a, err := s.GetAccount(ctx, cur.UserID)
			if err != nil {
				return fmt.Errorf("settle topup: %w", err)
			}
			if a == nil {
				return ErrNotFound
			}
			a.Balance = a.Balance.Add(cur.Amount)
			if err := s.SaveAccount(ctx, *a); err != nil {
				return fmt.Errorf("settle topup: save account: %w", err)
			}
		}

		settled := *cur
		settled.Status = status
		tx = &settled
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tx_id":   tx.ID,
		"user_id": tx.UserID,
		"status":  tx.Status,
	}).Info("topup settled")
	if tx.Status == StatusCompleted {
		e.notify(*tx)
	}
	return tx, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) logApplied(tx Transaction) {
	log.WithFields(log.Fields{
		"tx_id":   tx.ID,
		"user_id": tx.UserID,
		"type":    tx.Type,
		"amount":  tx.Amount.String(),
		"status":  tx.Status,
	}).Info("operation applied")
}

// notify pushes a post-commit notification. Best effort: runs outside
// the request, failures are the notifier's problem to log.
func (e *Engine) notify(tx Transaction) {
	if e.Notifier == nil {
		return
	}
	go e.Notifier.TransactionCompleted(context.Background(), tx)
}
