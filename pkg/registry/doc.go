// Package registry provides utilities shared across script registry
// implementations, including sentinel errors and project context helpers.
//
// Registry adapters (memory, postgres) implement the transport.ScriptStore
// interface defined in pkg/transport/handler.go. This package contains
// only shared types and helpers, not the interface itself.
package registry
