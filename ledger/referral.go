/*
referral.go - Attributes signups to referrers and pays the reward

A referee is attributed to exactly one referrer, ever. Attribution and
the referrer's bonus are one atomic unit: if the bonus cannot be
credited, the edge is not created either.

Attribution touches two accounts, so both locks are taken through
LockTable.AcquireAll, which orders them by user id. A pair of requests
attributing A→B and B→A concurrently cannot deadlock.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Engine *Engine

	// Bonus is the fixed amount credited to the referrer per attribution.
	Bonus decimal.Decimal
}

// NewResolver creates a resolver paying the product's default referral
// bonus through the given engine.
func NewResolver(engine *Engine) *Resolver {
	return &Resolver{Engine: engine, Bonus: DefaultReferralBonus}
}

// Attribute links refereeID to referrerID and credits the referrer.
// Fails with ErrSelfReferral, ErrAlreadyAttributed or ErrUnknownReferrer;
// on success the edge exists and the bonus is applied, atomically.
func (r *Resolver) Attribute(ctx context.Context, refereeID, referrerID string) (*ReferralEdge, error) {
	if refereeID == referrerID {
		return nil, ErrSelfReferral
	}

	e := r.Engine
	release, err := e.Locks.AcquireAll(ctx, refereeID, referrerID)
	if err != nil {
		return nil, err
	}
	defer release()

	var edge *ReferralEdge
	err = e.Store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetReferrerOf(ctx, refereeID)
		if err != nil {
			return fmt.Errorf("attribute: %w", err)
		}
		if existing != nil {
			return ErrAlreadyAttributed
		}

		referrer, err := s.GetAccount(ctx, referrerID)
		if err != nil {
			return fmt.Errorf("attribute: %w", err)
		}
		if referrer == nil {
			return ErrUnknownReferrer
		}

		created := ReferralEdge{
			ID:         uuid.NewString(),
			ReferrerID: referrerID,
			RefereeID:  refereeID,
			CreatedAt:  e.Now().UTC(),
		}
		if err := s.CreateReferral(ctx, created); err != nil {
			return fmt.Errorf("attribute: create edge: %w", err)
		}

		if _, err := e.apply(ctx, s, Operation{
			UserID:      referrerID,
			Type:        TxReferralBonus,
			Amount:      r.Bonus,
			Description: "Referral bonus",
		}); err != nil {
			return err
		}

		edge = &created
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"referrer_id": referrerID,
		"referee_id":  refereeID,
		"bonus":       r.Bonus.String(),
	}).Info("referral attributed")
	return edge, nil
}
