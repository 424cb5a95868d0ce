// Package jwt authenticates bearer tokens as RSA-signed JWTs, with the
// verification keys pulled from a JWKS endpoint and cached by key ID.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/cepheid-ml/cepheid/pkg/auth"
)

// Config selects what a token must prove and where the claims of
// interest live.
type Config struct {
	// Issuer the iss claim must equal; empty skips the check.
	Issuer string

	// Audience the aud claim must contain; empty skips the check.
	Audience string

	// JWKSURL serves the key set tokens are verified against.
	JWKSURL string

	// UserClaim names the claim carrying the subject. Default "sub".
	UserClaim string

	// ProjectClaim names the claim carrying the registry project.
	// Default "project_id".
	ProjectClaim string

	// ScopesClaim names the claim carrying scopes, as a space-separated
	// string or a JSON array. Default "scope".
	ScopesClaim string

	// CacheTTL is how long fetched keys stay fresh. Default 1 hour.
	CacheTTL time.Duration

	// HTTPClient fetches the JWKS; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) fill() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.ProjectClaim == "" {
		c.ProjectClaim = "project_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates RSA-signed bearer JWTs.
type Authenticator struct {
	cfg  Config
	keys *keySet
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New builds the authenticator. Keys are fetched lazily on the first
// token that needs them.
func New(cfg Config) *Authenticator {
	cfg.fill()
	return &Authenticator{
		cfg: cfg,
		keys: &keySet{
			url:    cfg.JWKSURL,
			ttl:    cfg.CacheTTL,
			client: cfg.HTTPClient,
		},
	}
}

// Authenticate verifies the request's bearer token. Requests without a
// bearer credential abstain; a present token that fails verification,
// or lacks the subject claim, is rejected.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if raw == "" {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	token, err := jwtlib.Parse(raw, a.verificationKey(ctx), a.validations()...)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("invalid JWT claims")}
	}

	subject, _ := claims[a.cfg.UserClaim].(string)
	if subject == "" {
		return auth.AuthResult{
			Decision: auth.No,
			Err:      fmt.Errorf("JWT missing %q claim", a.cfg.UserClaim),
		}
	}

	id := &auth.Identity{
		Subject:  subject,
		Scopes:   scopesFromClaim(claims[a.cfg.ScopesClaim]),
		Metadata: map[string]string{},
	}
	if project, _ := claims[a.cfg.ProjectClaim].(string); project != "" {
		id.Metadata["project_id"] = project
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: id}
}

// verificationKey resolves a token's kid against the cached key set.
func (a *Authenticator) verificationKey(ctx context.Context) jwtlib.Keyfunc {
	return func(token *jwtlib.Token) (any, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		key, err := a.keys.lookup(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("resolve kid %q: %w", kid, err)
		}
		return key, nil
	}
}

func (a *Authenticator) validations() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.cfg.Audience))
	}
	return opts
}

// scopesFromClaim reads a scope claim in either of its two common
// encodings.
func scopesFromClaim(v any) []string {
	switch sc := v.(type) {
	case string:
		if fields := strings.Fields(sc); len(fields) > 0 {
			return fields
		}
	case []any:
		var out []string
		for _, el := range sc {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// keySet caches the RSA public keys of one JWKS endpoint, keyed by kid.
// A lookup miss or an expired cache triggers a refetch.
type keySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu      sync.RWMutex
	byKID   map[string]*rsa.PublicKey
	staleAt time.Time
}

func (ks *keySet) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	key, fresh := ks.cached(kid)
	ks.mu.RUnlock()
	if fresh {
		return key, nil
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	// Another request may have refreshed while we waited for the lock.
	if key, fresh := ks.cached(kid); fresh {
		return key, nil
	}
	if err := ks.refresh(ctx); err != nil {
		return nil, err
	}
	key, ok := ks.byKID[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not in JWKS", kid)
	}
	return key, nil
}

// cached returns the key for kid when the cache holds it and is within
// TTL. Callers hold at least the read lock.
func (ks *keySet) cached(kid string) (*rsa.PublicKey, bool) {
	if time.Now().After(ks.staleAt) {
		return nil, false
	}
	key, ok := ks.byKID[kid]
	return key, ok
}

// refresh refetches the JWKS. Callers hold the write lock.
func (ks *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("build JWKS request: %w", err)
	}
	resp, err := ks.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint answered %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("parse JWKS: %w", err)
	}

	byKID := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		key, err := rsaKey(k.N, k.E)
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		byKID[k.Kid] = key
	}

	ks.byKID = byKID
	ks.staleAt = time.Now().Add(ks.ttl)
	slog.Debug("JWKS refreshed", "keys", len(byKID), "url", ks.url)
	return nil
}

// rsaKey assembles a public key from the JWK's base64url modulus and
// exponent.
func rsaKey(n64, e64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n64)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e64)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() > int64(^uint32(0)) {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil
}
