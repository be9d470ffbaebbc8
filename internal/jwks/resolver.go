// Package jwks resolves the identity provider's token signing keys by key
// id. Keys are fetched lazily from the published JWK set and cached for the
// process lifetime; the acceptable staleness bound is the provider's key
// rotation interval.
package jwks

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/dgellow/changebank/internal/log"
)

// ResolutionError reports a key that could not be resolved, either because
// the JWK set was unreachable or because it does not contain the key id.
// Callers treat it as "unauthenticated", never as "allowed".
type ResolutionError struct {
	KID string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving signing key %q: %v", e.KID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver caches public signing keys per key id. Concurrent resolutions of
// the same uncached key id are collapsed into a single fetch.
type Resolver struct {
	url    string
	client *http.Client

	mu   sync.RWMutex
	keys map[string]crypto.PublicKey

	group singleflight.Group
}

// NewResolver creates a resolver for the given JWK set URL.
func NewResolver(jwksURL string) *Resolver {
	return &Resolver{
		url:    jwksURL,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   make(map[string]crypto.PublicKey),
	}
}

// ResolveKey returns the public key for kid, fetching the JWK set if the key
// is not cached yet.
func (r *Resolver) ResolveKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	r.mu.RLock()
	key, ok := r.keys[kid]
	r.mu.RUnlock()
	if ok {
		return key, nil
	}

	v, err, _ := r.group.Do(kid, func() (any, error) {
		// Double-check inside singleflight
		r.mu.RLock()
		key, ok := r.keys[kid]
		r.mu.RUnlock()
		if ok {
			return key, nil
		}

		// The fetch is shared by every waiter on this kid, so it must not
		// die with whichever request happened to trigger it.
		set, err := r.fetchKeySet(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		return r.storeAndLookup(set, kid)
	})
	if err != nil {
		return nil, &ResolutionError{KID: kid, Err: err}
	}
	return v.(crypto.PublicKey), nil
}

func (r *Resolver) fetchKeySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building JWKS request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWK set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("JWKS endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decoding JWK set: %w", err)
	}

	return &set, nil
}

// storeAndLookup caches every public key in the set and returns the one for
// kid. Caching the whole set means sibling key ids resolve without another
// network call. The write is idempotent: racing fetches converge to the same
// key material.
func (r *Resolver) storeAndLookup(set *jose.JSONWebKeySet, kid string) (crypto.PublicKey, error) {
	r.mu.Lock()
	for _, k := range set.Keys {
		if k.KeyID == "" || !k.Valid() || !k.IsPublic() {
			continue
		}
		r.keys[k.KeyID] = k.Key
	}
	key, ok := r.keys[kid]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("JWK set has no key with id %q", kid)
	}

	log.LogDebugWithFields("jwks", "Signing key cached", map[string]any{
		"kid": kid,
	})
	return key, nil
}
