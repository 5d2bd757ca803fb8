// Package secrets implements per-user secret lookup across multiple backends.
// A secret is addressed by a plain key (e.g. "github_pat_<user_id>"); each
// backend decides how that key maps onto its own storage. Resolved values are
// read-only — nothing in this package caches, mutates, or persists them.
package secrets

import (
	"context"
	"errors"
)

// ErrSecretNotFound means the backend was reachable and the key genuinely
// does not exist. Callers must treat this as "not provisioned", not a failure.
var ErrSecretNotFound = errors.New("secret not found")

// ErrBackendUnavailable means the backend could not be consulted at all
// (network error, timeout, server error). The chain degrades this to a miss,
// but the two conditions stay distinguishable at the provider boundary.
var ErrBackendUnavailable = errors.New("secret backend unavailable")

// Secret holds resolved credential material.
// This type MUST NOT be serialized to JSON or written to logs.
type Secret struct {
	Value    string            // The raw secret value (e.g. a GitHub PAT).
	Metadata map[string]string // Backend-specific metadata (source, secret name).
}

// Provider resolves a secret key against one backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Resolve returns the secret stored under key. Returns ErrSecretNotFound
	// when the key does not exist and ErrBackendUnavailable when the backend
	// cannot be reached.
	Resolve(ctx context.Context, key string) (*Secret, error)

	// Name returns the provider identifier for logging (never secret material).
	Name() string
}
