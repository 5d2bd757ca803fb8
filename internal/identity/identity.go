// Package identity verifies bearer tokens against an external identity
// provider. Tokens are opaque here: no local decoding, no signature checks,
// no caching of verification results — every request is re-verified so that
// revocation is visible immediately.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthorized means the bearer token is missing, malformed, expired, or
// was rejected by the identity provider. Terminal — never retried.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the provider's answer for a verified token.
type Identity struct {
	UserID   string         // Stable user identifier (UUID at Supabase).
	Email    string         //
	Metadata map[string]any // Provider user_metadata, if any.
}

// Verifier confirms a bearer token with the identity provider.
// Implementations must be safe for concurrent use.
type Verifier interface {
	// Verify returns the identity behind the token, or ErrUnauthorized.
	// An empty token must be rejected locally without any network call.
	Verify(ctx context.Context, token string) (*Identity, error)
}
