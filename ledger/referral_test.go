package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-ledger/ledger"
	"github.com/warp/rewards-ledger/ledger/store"
)

func newTestResolver(t *testing.T) (*ledger.Resolver, *ledger.Engine) {
	t.Helper()
	e := ledger.NewEngine(store.NewMemory())
	return ledger.NewResolver(e), e
}

func TestResolver_Attribute_PaysReferrerOnce(t *testing.T) {
	// GIVEN: An existing referrer and a new referee
	// WHEN: The referee is attributed
	// THEN: The edge exists, the referrer earns the bonus exactly once,
	//       and a repeat attribution is rejected

	r, e := newTestResolver(t)
	ctx := context.Background()

	_, err := e.EnsureAccount(ctx, "referrer")
	require.NoError(t, err)
	_, err = e.EnsureAccount(ctx, "referee")
	require.NoError(t, err)

	edge, err := r.Attribute(ctx, "referee", "referrer")
	require.NoError(t, err)
	assert.Equal(t, "referrer", edge.ReferrerID)
	assert.Equal(t, "referee", edge.RefereeID)

	a, err := e.Store.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(ledger.DefaultReferralBonus))
	assert.True(t, a.ReferralEarnings.Equal(ledger.DefaultReferralBonus))

	n, err := e.Store.CountReferralsBy(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second attribution, even to a different referrer, is rejected.
	_, err = e.EnsureAccount(ctx, "other")
	require.NoError(t, err)
	_, err = r.Attribute(ctx, "referee", "other")
	assert.ErrorIs(t, err, ledger.ErrAlreadyAttributed)

	a, err = e.Store.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(ledger.DefaultReferralBonus), "bonus must not repeat")
}

func TestResolver_Attribute_SelfReferralRejected(t *testing.T) {
	r, e := newTestResolver(t)
	ctx := context.Background()
	_, err := e.EnsureAccount(ctx, "user-1")
	require.NoError(t, err)

	_, err = r.Attribute(ctx, "user-1", "user-1")
	assert.ErrorIs(t, err, ledger.ErrSelfReferral)
}

func TestResolver_Attribute_UnknownReferrer(t *testing.T) {
	// GIVEN: A referee whose referral code matches no account
	// WHEN: Attribution runs
	// THEN: It fails and no edge is created

	r, e := newTestResolver(t)
	ctx := context.Background()
	_, err := e.EnsureAccount(ctx, "referee")
	require.NoError(t, err)

	_, err = r.Attribute(ctx, "referee", "ghost")
	assert.ErrorIs(t, err, ledger.ErrUnknownReferrer)

	existing, err := e.Store.GetReferrerOf(ctx, "referee")
	require.NoError(t, err)
	assert.Nil(t, existing, "failed attribution must not leave an edge")
}

func TestResolver_Attribute_OpposingPairsDoNotDeadlock(t *testing.T) {
	// A attributing to B while B attributes to A takes the same two locks
	// in opposite request order. Both calls must return.

	r, e := newTestResolver(t)
	ctx := context.Background()
	_, err := e.EnsureAccount(ctx, "a")
	require.NoError(t, err)
	_, err = e.EnsureAccount(ctx, "b")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() {
		defer wg.Done()
		_, errA = r.Attribute(ctx, "a", "b")
	}()
	go func() {
		defer wg.Done()
		_, errB = r.Attribute(ctx, "b", "a")
	}()
	wg.Wait()

	// Distinct referees, so both attributions are valid.
	assert.NoError(t, errA)
	assert.NoError(t, errB)

	n, err := e.Store.CountReferralsBy(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = e.Store.CountReferralsBy(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
