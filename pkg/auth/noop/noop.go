// Package noop admits every request as an anonymous caller. It backs
// the "none" auth mode for development and single-user deployments.
package noop

import (
	"context"
	"net/http"

	"github.com/cepheid-ml/cepheid/pkg/auth"
)

// Authenticator votes Yes on everything.
type Authenticator struct{}

var _ auth.Authenticator = (*Authenticator)(nil)

// Authenticate returns an anonymous default-tier identity without
// looking at the request.
func (a *Authenticator) Authenticate(context.Context, *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{Subject: "anonymous", ServiceTier: "default"},
	}
}
