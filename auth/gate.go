/*
Package auth decides who may call privileged ledger operations.

The original product trusted a client-supplied admin id header; here
privilege is established server-side: the caller presents a session
token minted at login, and the gate re-checks the persisted allow-list
on every privileged request. Nothing about admin status is cached
between requests.
*/
package auth

import (
	"context"
	"fmt"

	"github.com/warp/rewards-ledger/ledger"
)

// AccountReader is the slice of the store the gate needs.
type AccountReader interface {
	GetAccount(ctx context.Context, userID string) (*ledger.Account, error)
}

// =============================================================================
// ADMIN AUTHORIZATION GATE
// =============================================================================

// Gate answers "may this identity perform privileged operations".
// Privilege comes from the account's persisted admin flag or from a
// static allow-list supplied at startup.
type Gate struct {
	store  AccountReader
	static map[string]bool
}

// NewGate creates a gate over the store. staticAdmins are user ids that
// are admins regardless of their stored flag (bootstrap operators).
func NewGate(store AccountReader, staticAdmins []string) *Gate {
	static := make(map[string]bool, len(staticAdmins))
	for _, id := range staticAdmins {
		if id != "" {
			static[id] = true
		}
	}
	return &Gate{store: store, static: static}
}

// IsAdmin reports whether userID may invoke privileged operations.
// Always consults the store; callers must not cache the answer.
func (g *Gate) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if g.static[userID] {
		return true, nil
	}
	a, err := g.store.GetAccount(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("admin check: %w", err)
	}
	return a != nil && a.IsAdmin, nil
}

// Require returns ErrUnauthorized unless userID is an admin.
func (g *Gate) Require(ctx context.Context, userID string) error {
	ok, err := g.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrUnauthorized
	}
	return nil
}

// IsStaticAdmin reports whether userID is on the startup allow-list.
// Used at login to persist the flag the way the original deployment did.
func (g *Gate) IsStaticAdmin(userID string) bool {
	return g.static[userID]
}
