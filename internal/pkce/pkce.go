// Package pkce manages the state value and proof-key pair that bind an
// authorization-code flow to one browser session. The triple travels only in
// an httpOnly cookie; the URL carries nothing but the opaque state.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrStateMismatch means the state returned on the callback does not match
// the one stored in the session cookie, or no session existed at all. Both
// smell like a forged callback and abort the flow.
var ErrStateMismatch = errors.New("oauth state mismatch")

// stateBytes gives a 60-character base64url state value, well above the
// 128-bit entropy floor.
const stateBytes = 45

// Challenge is the per-flow secret material persisted in the session cookie.
type Challenge struct {
	State     string `json:"stateValue"`
	Verifier  string `json:"verifier"`
	Challenge string `json:"challenge"`
}

// Begin generates a fresh state value and S256 verifier/challenge pair. The
// caller must set the session cookie before redirecting.
func Begin() (Challenge, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return Challenge{}, fmt.Errorf("failed to generate state: %w", err)
	}

	verifier := oauth2.GenerateVerifier()
	return Challenge{
		State:     base64.RawURLEncoding.EncodeToString(b),
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}, nil
}

// Complete checks the state returned by the identity provider against the
// stored session and, on match, releases the verifier for the token
// exchange.
func Complete(stored *Challenge, returnedState string) (string, error) {
	if stored == nil || stored.State == "" || returnedState == "" {
		return "", ErrStateMismatch
	}
	if subtle.ConstantTimeCompare([]byte(stored.State), []byte(returnedState)) != 1 {
		return "", ErrStateMismatch
	}
	return stored.Verifier, nil
}

// Verify reports whether verifier hashes to challenge per the S256 method.
func Verify(verifier, challenge string) bool {
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
