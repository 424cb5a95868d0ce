package transport

import "context"

// Middleware decorates an Extractor with cross-cutting behavior such
// as logging, metrics, or panic recovery.
type Middleware func(Extractor) Extractor

// Chain folds middlewares into one. The first argument ends up
// outermost, so Chain(a, b, c) yields a(b(c(inner))).
func Chain(middlewares ...Middleware) Middleware {
	return func(inner Extractor) Extractor {
		wrapped := inner
		for i := len(middlewares) - 1; i >= 0; i-- {
			wrapped = middlewares[i](wrapped)
		}
		return wrapped
	}
}

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// ContextWithRequestID stamps the context with a request ID for
// downstream log correlation.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the stamped request ID, or "" when the
// context carries none.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
