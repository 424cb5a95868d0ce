// Package apikey authenticates requests against a static list of API
// keys carried in the X-API-Key header or as a bearer token. Keys are
// held as SHA-256 digests and matched in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cepheid-ml/cepheid/pkg/auth"
)

// RawKeyEntry is one configured key with the identity it authenticates.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// entry pairs a key digest with its identity. Plaintext keys are
// discarded at construction.
type entry struct {
	digest   [sha256.Size]byte
	identity auth.Identity
}

// Authenticator matches presented keys against the configured set.
type Authenticator struct {
	entries []entry
}

// New hashes the raw keys and returns the authenticator.
func New(raw []RawKeyEntry) *Authenticator {
	a := &Authenticator{entries: make([]entry, 0, len(raw))}
	for _, r := range raw {
		a.entries = append(a.entries, entry{
			digest:   sha256.Sum256([]byte(r.Key)),
			identity: r.Identity,
		})
	}
	return a
}

// Authenticate reads the key from X-API-Key, or from a bearer token
// when that header is absent. No credential of either kind is an
// abstention; a presented key that matches nothing is a rejection.
// Bearer tokens shaped like JWTs abstain so a JWT authenticator later
// in the chain can vote.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	key, ok := presentedKey(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if key == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	digest := sha256.Sum256([]byte(key))
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			id := e.identity
			return auth.AuthResult{Decision: auth.Yes, Identity: &id}
		}
	}
	return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
}

// presentedKey extracts the API key from the request, reporting whether
// any credential this authenticator reads was presented at all.
func presentedKey(r *http.Request) (string, bool) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, true
	}
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", false
	}
	if strings.Count(token, ".") == 2 {
		// Three dot-separated segments is a JWT, not an API key.
		return "", false
	}
	return token, true
}
