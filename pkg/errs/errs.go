// Package errs defines the sentinel error kinds from the spec's error
// taxonomy (§7), checked with errors.Is at the boundaries that care
// about them (HTTP status mapping, retry decisions).
package errs

import "errors"

var (
	// ErrLockBusy is returned by TryStart when a target already has an
	// open maintenance window. Never retried internally.
	ErrLockBusy = errors.New("target is already in maintenance")

	// ErrValidation marks a precondition failure caught before any
	// mutation (e.g. a snapshot missing data/ or wasm/).
	ErrValidation = errors.New("validation failed")

	// ErrStorage marks a persistence-layer failure.
	ErrStorage = errors.New("storage error")

	// ErrNotFound marks a missing entity lookup (operation, job, node).
	ErrNotFound = errors.New("not found")

	// ErrAgent marks a non-success response surfaced verbatim from an
	// agent call.
	ErrAgent = errors.New("agent error")

	// ErrTransport marks a network-level failure talking to an agent.
	ErrTransport = errors.New("transport error")
)
