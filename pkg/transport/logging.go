package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
)

// Logging returns middleware that emits structured log entries for each
// extraction. The log entry includes the request ID (from context), the
// number of datasets, the execution mode, duration, and whether the run
// succeeded or failed.
//
// Note: The HTTP method and path are not available at the Extractor
// level. For full HTTP-level logging (including status codes), use
// HTTP-level middleware in the adapter.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Extractor) Extractor {
		return ExtractorFunc(func(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
			start := time.Now()
			requestID := RequestIDFromContext(ctx)

			out, err := next.Extract(ctx, scriptSrc, inputs)

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.Int("datasets", len(inputs)),
				slog.Duration("duration", time.Since(start)),
			}
			if out != nil {
				attrs = append(attrs, slog.String("mode", out.Mode))
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "extraction failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "extraction completed", attrs...)
			}

			return out, err
		})
	}
}
