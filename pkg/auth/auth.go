package auth

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors surfaced by the chain and the rate limiter.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// AuthDecision is an authenticator's vote on a request.
type AuthDecision int

const (
	// Yes accepts the request; the vote carries the caller's identity.
	Yes AuthDecision = iota
	// No rejects the request; credentials were presented but are wrong.
	No
	// Abstain passes the vote to the next authenticator, for requests
	// carrying a credential kind this authenticator does not read.
	Abstain
)

// String returns the decision name for logs.
func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// AuthResult is one authenticator's vote. Identity is set only on Yes,
// Err only on No.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity
	Err      error
}

// Identity describes the authenticated caller of a request.
type Identity struct {
	// Subject uniquely names the caller. Authenticators must not return
	// a Yes vote with an empty subject.
	Subject string

	// ServiceTier selects the caller's rate-limit tier.
	ServiceTier string

	// Scopes are the caller's granted authorization scopes.
	Scopes []string

	// Metadata holds provider-specific attributes. The "project_id"
	// entry scopes the caller's scripts in the registry.
	Metadata map[string]string
}

// ProjectID returns the registry project this identity is scoped to,
// or empty when the caller is unscoped.
func (id *Identity) ProjectID() string {
	if id == nil {
		return ""
	}
	return id.Metadata["project_id"]
}

// Authenticator votes on one request's credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// AuthChain polls authenticators in order and adopts the first vote
// that is not an abstention.
type AuthChain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when every authenticator abstains: Yes
	// admits the request anonymously (dev mode), anything else rejects.
	DefaultDecision AuthDecision
}

// anonymous is the identity handed out when the chain defaults to Yes.
func anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: "default"}
}

// Authenticate runs the chain over the request.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.DefaultDecision == Yes {
		return AuthResult{Decision: Yes, Identity: anonymous()}
	}
	return AuthResult{Decision: No, Err: ErrUnauthenticated}
}

type identityKey struct{}

// SetIdentity returns ctx with the authenticated identity attached.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity the middleware attached, or
// nil on unauthenticated and bypassed requests.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
