// Package api defines the wire-level types for cepheid's HTTP surface:
// script, extraction, and verification resources, request validation,
// the structured error envelope, and resource ID generation.
//
// The package has zero external dependencies (Go standard library only)
// and performs no I/O.
package api
