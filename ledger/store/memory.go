// Package store provides the in-memory TxStore implementation, used in
// tests and for dev runs without a database.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/rewards-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	accounts     map[string]ledger.Account
	accountOrder []string // creation order, oldest first

	transactions []ledger.Transaction // append order, oldest first
	txIndex      map[string]int

	referrals []ledger.ReferralEdge
	refereeOf map[string]int // referee id -> index into referrals
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[string]ledger.Account),
		txIndex:   make(map[string]int),
		refereeOf: make(map[string]int),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, userID string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(userID)
}

func (m *Memory) getAccountLocked(userID string) (*ledger.Account, error) {
	a, ok := m.accounts[userID]
	if !ok {
		return nil, nil
	}
	cp := a
	return &cp, nil
}

func (m *Memory) CreateAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(a)
}

func (m *Memory) createAccountLocked(a ledger.Account) error {
	if _, ok := m.accounts[a.UserID]; ok {
		return fmt.Errorf("%w: account %s", ledger.ErrDuplicate, a.UserID)
	}
	m.accounts[a.UserID] = a
	m.accountOrder = append(m.accountOrder, a.UserID)
	return nil
}

func (m *Memory) SaveAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAccountLocked(a)
}

func (m *Memory) saveAccountLocked(a ledger.Account) error {
	if _, ok := m.accounts[a.UserID]; !ok {
		return ledger.ErrNotFound
	}
	m.accounts[a.UserID] = a
	return nil
}

func (m *Memory) ListAccounts(_ context.Context, limit int) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked(limit)
}

func (m *Memory) listAccountsLocked(limit int) ([]ledger.Account, error) {
	result := make([]ledger.Account, 0, len(m.accountOrder))
	for i := len(m.accountOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.accounts[m.accountOrder[i]])
	}
	return result, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransactionLocked(tx)
}

func (m *Memory) appendTransactionLocked(tx ledger.Transaction) error {
	if _, ok := m.txIndex[tx.ID]; ok {
		return fmt.Errorf("%w: transaction %s", ledger.ErrDuplicate, tx.ID)
	}
	m.txIndex[tx.ID] = len(m.transactions)
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) getTransactionLocked(id string) (*ledger.Transaction, error) {
	i, ok := m.txIndex[id]
	if !ok {
		return nil, nil
	}
	cp := m.transactions[i]
	return &cp, nil
}

func (m *Memory) MarkTransaction(_ context.Context, id string, status ledger.TxStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markTransactionLocked(id, status)
}

func (m *Memory) markTransactionLocked(id string, status ledger.TxStatus) error {
	i, ok := m.txIndex[id]
	if !ok {
		return ledger.ErrTxNotFound
	}
	if m.transactions[i].Status != ledger.StatusPending {
		return ledger.ErrTxNotPending
	}
	m.transactions[i].Status = status
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, limit int) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked("", limit)
}

func (m *Memory) ListTransactionsByUser(_ context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(userID, limit)
}

func (m *Memory) listTransactionsLocked(userID string, limit int) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		if userID != "" && m.transactions[i].UserID != userID {
			continue
		}
		result = append(result, m.transactions[i])
	}
	return result, nil
}

// =============================================================================
// REFERRAL EDGES
// =============================================================================

func (m *Memory) GetReferrerOf(_ context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReferrerOfLocked(refereeID)
}

func (m *Memory) getReferrerOfLocked(refereeID string) (*ledger.ReferralEdge, error) {
	i, ok := m.refereeOf[refereeID]
	if !ok {
		return nil, nil
	}
	cp := m.referrals[i]
	return &cp, nil
}

func (m *Memory) CreateReferral(_ context.Context, e ledger.ReferralEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createReferralLocked(e)
}

func (m *Memory) createReferralLocked(e ledger.ReferralEdge) error {
	if _, ok := m.refereeOf[e.RefereeID]; ok {
		return ledger.ErrAlreadyAttributed
	}
	m.refereeOf[e.RefereeID] = len(m.referrals)
	m.referrals = append(m.referrals, e)
	return nil
}

func (m *Memory) CountReferralsBy(_ context.Context, referrerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countReferralsByLocked(referrerID)
}

func (m *Memory) countReferralsByLocked(referrerID string) (int, error) {
	n := 0
	for _, e := range m.referrals {
		if e.ReferrerID == referrerID {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

func (m *Memory) Stats(_ context.Context) (ledger.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked()
}

func (m *Memory) statsLocked() (ledger.Stats, error) {
	stats := ledger.Stats{
		TotalUsers:     len(m.accounts),
		TotalReferrals: len(m.referrals),
	}
	for _, a := range m.accounts {
		stats.TotalBalance = stats.TotalBalance.Add(a.Balance)
	}
	for _, tx := range m.transactions {
		if tx.Status != ledger.StatusCompleted {
			continue
		}
		switch tx.Type {
		case ledger.TxWithdraw:
			stats.TotalWithdrawals++
		case ledger.TxTopup:
			stats.TotalTopups++
		}
	}
	return stats, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot and rollback on error
// =============================================================================

// WithTx executes fn under the store's write lock. On error the state is
// restored from a snapshot, giving all-or-nothing semantics.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memoryView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts     map[string]ledger.Account
	accountOrder []string
	transactions []ledger.Transaction
	txIndex      map[string]int
	referrals    []ledger.ReferralEdge
	refereeOf    map[string]int
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:     make(map[string]ledger.Account, len(m.accounts)),
		accountOrder: append([]string{}, m.accountOrder...),
		transactions: append([]ledger.Transaction{}, m.transactions...),
		txIndex:      make(map[string]int, len(m.txIndex)),
		referrals:    append([]ledger.ReferralEdge{}, m.referrals...),
		refereeOf:    make(map[string]int, len(m.refereeOf)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.txIndex {
		s.txIndex[k] = v
	}
	for k, v := range m.refereeOf {
		s.refereeOf[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.accountOrder = s.accountOrder
	m.transactions = s.transactions
	m.txIndex = s.txIndex
	m.referrals = s.referrals
	m.refereeOf = s.refereeOf
}

// memoryView is the Store handed to WithTx callbacks. The parent's lock
// is already held, so it routes to the unlocked internals.
type memoryView struct {
	parent *Memory
}

func (v *memoryView) GetAccount(_ context.Context, userID string) (*ledger.Account, error) {
	return v.parent.getAccountLocked(userID)
}

func (v *memoryView) CreateAccount(_ context.Context, a ledger.Account) error {
	return v.parent.createAccountLocked(a)
}

func (v *memoryView) SaveAccount(_ context.Context, a ledger.Account) error {
	return v.parent.saveAccountLocked(a)
}

func (v *memoryView) ListAccounts(_ context.Context, limit int) ([]ledger.Account, error) {
	return v.parent.listAccountsLocked(limit)
}

func (v *memoryView) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.parent.appendTransactionLocked(tx)
}

func (v *memoryView) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	return v.parent.getTransactionLocked(id)
}

func (v *memoryView) MarkTransaction(_ context.Context, id string, status ledger.TxStatus) error {
	return v.parent.markTransactionLocked(id, status)
}

func (v *memoryView) ListTransactions(_ context.Context, limit int) ([]ledger.Transaction, error) {
	return v.parent.listTransactionsLocked("", limit)
}

func (v *memoryView) ListTransactionsByUser(_ context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	return v.parent.listTransactionsLocked(userID, limit)
}

func (v *memoryView) GetReferrerOf(_ context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	return v.parent.getReferrerOfLocked(refereeID)
}

func (v *memoryView) CreateReferral(_ context.Context, e ledger.ReferralEdge) error {
	return v.parent.createReferralLocked(e)
}

func (v *memoryView) CountReferralsBy(_ context.Context, referrerID string) (int, error) {
	return v.parent.countReferralsByLocked(referrerID)
}

func (v *memoryView) Stats(_ context.Context) (ledger.Stats, error) {
	return v.parent.statsLocked()
}
