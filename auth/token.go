package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/rewards-ledger/ledger"
)

// DefaultSessionTTL bounds how long a login session stays valid.
const DefaultSessionTTL = 24 * time.Hour

// =============================================================================
// SESSION TOKENS
// =============================================================================

// Sessions mints and verifies the bearer tokens carried on privileged
// requests. Tokens are HS256 JWTs holding the user id as subject; they
// prove identity only — admin privilege is re-checked by the Gate on
// every request, so revoking the flag takes effect immediately.
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

// NewSessions creates a session minter with the given signing secret.
// ttl <= 0 uses DefaultSessionTTL.
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, errors.New("session secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{secret: []byte(secret), ttl: ttl}, nil
}

// Issue mints a token for userID.
func (s *Sessions) Issue(userID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the user id the
// token was issued for. Any failure maps to ErrUnauthorized; callers
// get no detail about why a token was rejected.
func (s *Sessions) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return "", ledger.ErrUnauthorized
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ledger.ErrUnauthorized
	}
	return claims.Subject, nil
}
