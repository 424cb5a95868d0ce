package transport

import (
	"context"
	"fmt"

	"github.com/cepheid-ml/cepheid/pkg/api"
	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
)

// Recovery returns middleware that catches panics in the extractor and
// converts them to server error responses. The server continues to
// accept new requests after a panic is recovered.
func Recovery() Middleware {
	return func(next Extractor) Extractor {
		return ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (out *engine.Outcome, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					out = nil
					retErr = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.Extract(ctx, scriptSrc, inputs)
		})
	}
}
