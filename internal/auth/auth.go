// Package auth implements the request authentication path: extract a bearer
// token, verify it with the identity provider, resolve the user's external
// service token from the secret backends, and hand the result to downstream
// tool invocation as a UserContext.
//
// The UserContext is the only channel through which the external credential
// travels. It is built fresh per request, never persisted, and discarded when
// the request completes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/mcpauth/internal/identity"
	"github.com/jkaninda/mcpauth/internal/secrets"
)

// DefaultKeyTemplate derives the secret key from the verified user ID.
const DefaultKeyTemplate = "github_pat_%s"

// UserContext is the per-request record handed to downstream tool logic.
type UserContext struct {
	Identity      string  `json:"identity"` // Stable user ID from the identity provider.
	Email         string  `json:"email"`
	ExternalToken *string `json:"-"` // Resolved GitHub PAT. nil = not provisioned.
}

// HasExternalToken reports whether a credential was resolved for this user.
func (u *UserContext) HasExternalToken() bool {
	return u.ExternalToken != nil && *u.ExternalToken != ""
}

// Authenticator composes the identity verifier and the secret backend chain.
// Stateless: nothing is cached or shared between calls.
type Authenticator struct {
	verifier    identity.Verifier
	secrets     secrets.Provider
	keyTemplate string
	logger      *slog.Logger
}

// NewAuthenticator creates an Authenticator. keyTemplate must contain one %s
// verb for the user ID; empty means DefaultKeyTemplate. The secrets provider
// is usually a *secrets.Chain but any Provider works.
func NewAuthenticator(verifier identity.Verifier, provider secrets.Provider, keyTemplate string, logger *slog.Logger) *Authenticator {
	if keyTemplate == "" {
		keyTemplate = DefaultKeyTemplate
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Authenticator{
		verifier:    verifier,
		secrets:     provider,
		keyTemplate: keyTemplate,
		logger:      logger,
	}
}

// Authenticate validates the request headers and builds the UserContext.
//
// A missing or invalid bearer token returns identity.ErrUnauthorized; an
// absent external token does not — "user has not provisioned this
// integration" is an expected state, surfaced as a nil ExternalToken.
func (a *Authenticator) Authenticate(ctx context.Context, headers http.Header) (*UserContext, error) {
	token := BearerToken(headers)
	if token == "" {
		return nil, fmt.Errorf("%w: missing authorization token", identity.ErrUnauthorized)
	}

	id, err := a.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthorized) {
			return nil, fmt.Errorf("invalid token: %w", err)
		}
		// Provider outage or timeout during verification is a hard failure.
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	user := &UserContext{Identity: id.UserID, Email: id.Email}

	key := fmt.Sprintf(a.keyTemplate, id.UserID)
	secret, err := a.secrets.Resolve(ctx, key)
	switch {
	case err == nil:
		user.ExternalToken = &secret.Value
		a.logger.Debug("external token resolved",
			slog.String("user_id", id.UserID),
			slog.String("source", secret.Metadata["source"]),
		)
	case errors.Is(err, secrets.ErrSecretNotFound):
		a.logger.Info("no external token for user",
			slog.String("user_id", id.UserID),
			slog.String("key", key),
		)
	default:
		// Lookup failures degrade to "no token"; the request still succeeds.
		a.logger.Warn("secret lookup failed, continuing without external token",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
	}

	return user, nil
}

// BearerToken extracts the token from an Authorization header.
// Returns "" when the header is missing or not a Bearer scheme.
func BearerToken(headers http.Header) string {
	value := headers.Get("Authorization")
	if value == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(value, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(value, prefix))
}
