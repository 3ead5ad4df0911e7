/*
telegram.go - Login widget payload verification

The chat platform's login widget signs the profile fields it hands to
the page: hash = HMAC-SHA256(data-check-string, SHA256(bot token)).
Verifying that signature is the only part of the identity provider this
service touches; everything else about the widget stays client-side.
*/
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrBadLoginPayload is returned when the widget payload's signature
// does not verify. Treated as an authentication failure, not an error.
var ErrBadLoginPayload = errors.New("login payload verification failed")

// VerifyLoginPayload checks the widget signature over fields. The map
// holds the raw string fields the widget produced, including "hash" and
// "id". Returns ErrBadLoginPayload on any mismatch.
func VerifyLoginPayload(fields map[string]string, botToken string) error {
	if botToken == "" {
		return errors.New("bot token not configured")
	}
	check, ok := fields["hash"]
	if !ok || check == "" {
		return ErrBadLoginPayload
	}

	// data-check-string: all fields except hash, sorted, newline joined.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%s", k, fields[k])
	}
	payload := strings.Join(pairs, "\n")

	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(check)) {
		return ErrBadLoginPayload
	}
	return nil
}
