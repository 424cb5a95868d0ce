// Package transport defines the handler interfaces and middleware chain for
// the cepheid HTTP transport layer.
//
// The transport layer bridges external clients and cepheid's extraction
// engine. It deserializes incoming requests into the wire types defined in
// pkg/api, dispatches them for processing, and serializes results back to
// the client as JSON.
//
// # Handler Interfaces
//
// Three handler interfaces define the contract between the transport layer
// and the rest of the system:
//
//   - Extractor runs a script against a batch of time series; the
//     extraction engine satisfies it.
//   - Verifier runs a script against the acceptance battery; available
//     only when an isolation backend is configured.
//   - ScriptStore persists registered scripts; available only in
//     deployments with a registry.
//
// # Middleware
//
// The middleware chain wraps Extractor with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), and structured logging via log/slog. Custom middleware
// can be added for application-specific concerns.
//
// # Error Mapping
//
// MapError translates domain errors (malformed series, unsatisfiable
// contracts, sandbox failures, registry misses) into the typed error
// envelope from pkg/api, and HTTPStatusFromError assigns each error
// type its HTTP status code.
package transport
