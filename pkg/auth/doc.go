// Package auth decides who is calling the cepheid API.
//
// Authenticators vote on a request with one of three outcomes: Yes with
// an identity, No when presented credentials are wrong, or Abstain when
// the request carries a credential kind they do not read. An AuthChain
// polls them in order and adopts the first non-abstaining vote, so an
// API-key and a JWT authenticator can share one deployment.
//
// The package stays at the HTTP boundary: Middleware wraps the handler
// stack, rejects with the service's JSON error envelope, applies the
// per-tier rate limiter, and threads the caller's project into the
// request context for registry scoping. Nothing below the transport
// layer sees credentials.
package auth
