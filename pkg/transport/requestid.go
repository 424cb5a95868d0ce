package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
)

// RequestID returns middleware that guarantees every extraction runs
// under a request ID. An ID already on the context (the HTTP adapter
// puts the X-Request-ID header there) is kept; otherwise a fresh one
// is minted.
func RequestID() Middleware {
	return func(next Extractor) Extractor {
		return ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, newRequestID())
			}
			return next.Extract(ctx, scriptSrc, inputs)
		})
	}
}

// newRequestID returns 16 random bytes as hex.
func newRequestID() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
