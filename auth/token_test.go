package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-ledger/auth"
	"github.com/warp/rewards-ledger/ledger"
)

func TestSessions_IssueAndVerify(t *testing.T) {
	sessions, err := auth.NewSessions("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := sessions.Issue("user-1", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSessions_ExpiredTokenRejected(t *testing.T) {
	sessions, err := auth.NewSessions("test-secret", time.Hour)
	require.NoError(t, err)

	// Issued two hours ago with a one hour TTL.
	token, err := sessions.Issue("user-1", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = sessions.Verify(token)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestSessions_WrongSecretRejected(t *testing.T) {
	minter, err := auth.NewSessions("secret-a", time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewSessions("secret-b", time.Hour)
	require.NoError(t, err)

	token, err := minter.Issue("user-1", time.Now())
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestSessions_GarbageRejected(t *testing.T) {
	sessions, err := auth.NewSessions("test-secret", time.Hour)
	require.NoError(t, err)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := sessions.Verify(token)
		assert.ErrorIs(t, err, ledger.ErrUnauthorized, "token %q", token)
	}
}

func TestSessions_EmptySecretRefused(t *testing.T) {
	_, err := auth.NewSessions("", time.Hour)
	assert.Error(t, err)
}
