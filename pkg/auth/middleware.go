package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cepheid-ml/cepheid/pkg/observability"
	"github.com/cepheid-ml/cepheid/pkg/registry"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware wraps an HTTP handler with the authenticator chain and an
// optional rate limiter. Denied requests get a JSON error envelope;
// admitted requests carry the identity, and its project scope, in the
// request context.
func Middleware(chain *AuthChain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("request rejected",
					"decision", res.Decision,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err)
				deny(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			id := res.Identity
			if id.Subject == "" {
				// A Yes vote without a subject is an authenticator bug.
				slog.Error("authenticator produced identity with empty subject")
				deny(w, http.StatusInternalServerError, "server_error", "internal authentication error")
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.ServiceTier)
					observability.RateLimitRejectedTotal.WithLabelValues(id.ServiceTier).Inc()
					deny(w, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
					return
				}
			}

			slog.Debug("request authenticated", "subject", id.Subject, "path", r.URL.Path)

			ctx := SetIdentity(r.Context(), id)
			if project := id.ProjectID(); project != "" {
				ctx = registry.SetProject(ctx, project)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// deny writes the API error envelope without importing the transport
// layer; auth sits outside it.
func deny(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"type":%q,"message":%q}}`, errType, message)
}
