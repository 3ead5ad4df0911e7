/*
locks.go - Per-account serialization for mutating operations

Two concurrent withdrawals reading the same stale balance could both pass
the funds check; the lock table closes that race by serializing every
mutating operation on a given account.

RULES:
  - One lock per user id, acquired for the duration of the operation
  - Bounded wait: acquisition times out with ErrBusy, requests never hang
  - Operations touching two accounts (referral attribution) acquire both
    locks in ascending user-id order, so opposing orders cannot deadlock
*/
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultLockWait bounds how long a request waits for an account lock
// before failing with ErrBusy.
const DefaultLockWait = 3 * time.Second

// =============================================================================
// LOCK TABLE
// =============================================================================

// LockTable hands out one mutex per user id. Entries are reference
// counted and removed when the last holder releases, so the table does
// not grow with the number of accounts ever seen.
type LockTable struct {
	mu   sync.Mutex
	wait time.Duration
	sems map[string]*accountSem
}

type accountSem struct {
	ch   chan struct{} // capacity 1; holding the token = holding the lock
	refs int
}

// NewLockTable creates a table with the given acquisition wait bound.
// wait <= 0 uses DefaultLockWait.
func NewLockTable(wait time.Duration) *LockTable {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &LockTable{wait: wait, sems: make(map[string]*accountSem)}
}

func (t *LockTable) get(userID string) *accountSem {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sems[userID]
	if !ok {
		s = &accountSem{ch: make(chan struct{}, 1)}
		t.sems[userID] = s
	}
	s.refs++
	return s
}

func (t *LockTable) put(userID string, s *accountSem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(t.sems, userID)
	}
}

// Acquire takes the lock for userID, waiting at most the table's bound.
// On success the returned release function MUST be called exactly once.
// Returns ErrBusy on timeout and the context error if ctx ends first.
func (t *LockTable) Acquire(ctx context.Context, userID string) (func(), error) {
	s := t.get(userID)

	timer := time.NewTimer(t.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				t.put(userID, s)
			})
		}, nil
	case <-timer.C:
		t.put(userID, s)
		return nil, ErrBusy
	case <-ctx.Done():
		t.put(userID, s)
		return nil, ctx.Err()
	}
}

// AcquireAll takes the locks for every id in ascending order. Duplicate
// ids are collapsed. On failure, locks already taken are released.
func (t *LockTable) AcquireAll(ctx context.Context, userIDs ...string) (func(), error) {
	ids := make([]string, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	releases := make([]func(), 0, len(ids))
	releaseAll := func() {
		// Release in reverse acquisition order.
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, id := range ids {
		release, err := t.Acquire(ctx, id)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
