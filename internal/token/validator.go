// Package token verifies bearer tokens issued by the identity provider.
package token

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dgellow/changebank/internal/jwks"
)

// ErrInvalidToken covers malformed structure, bad signatures, rejected
// algorithms, and missing claims. ErrExpiredToken is reported separately so
// callers can suggest re-login instead of treating the token as garbage.
// Either way the request is unauthenticated.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Only asymmetric signatures are accepted: the verification keys come from
// the provider's published JWK set.
var validMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Identity is the verified content of a token.
type Identity struct {
	Subject string
	Claims  jwt.MapClaims
}

// KeyResolver looks up a verification key by the key id from a token header.
// *jwks.Resolver satisfies it.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// Validator checks token signatures and temporal claims.
type Validator struct {
	keys   KeyResolver
	parser *jwt.Parser
}

func NewValidator(keys KeyResolver) *Validator {
	return &Validator{
		keys:   keys,
		parser: jwt.NewParser(jwt.WithValidMethods(validMethods)),
	}
}

// Validate parses raw, resolves the signing key named by the token header,
// and verifies signature, expiry, and not-before. Errors are ErrInvalidToken,
// ErrExpiredToken, or a *jwks.ResolutionError from the key lookup.
func (v *Validator) Validate(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	tok, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return v.keys.ResolveKey(ctx, kid)
	})
	if err != nil {
		var resErr *jwks.ResolutionError
		switch {
		case errors.As(err, &resErr):
			return Identity{}, resErr
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		default:
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	return Identity{Subject: sub, Claims: claims}, nil
}
