package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Chain tries backends in a fixed order and returns the first hit.
// Lookups are strictly sequential — backends are never raced, so the first
// configured backend always wins deterministically.
//
// An unreachable backend is logged and skipped, degrading to a miss rather
// than failing the whole lookup. When nothing matched, the returned error
// still wraps ErrSecretNotFound but names any backends that were unreachable,
// so callers and tests can tell "absent everywhere" from "absent as far as
// we could check".
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a chain that consults providers in the given order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Chain{providers: providers, logger: logger}
}

func (c *Chain) Name() string { return "chain" }

// Providers returns the configured backend names in lookup order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

func (c *Chain) Resolve(ctx context.Context, key string) (*Secret, error) {
	var unavailable []string
	for _, p := range c.providers {
		secret, err := p.Resolve(ctx, key)
		switch {
		case err == nil:
			return secret, nil
		case errors.Is(err, ErrBackendUnavailable):
			// Connectivity problems degrade to a miss: a transient vault
			// outage must not abort the whole lookup.
			unavailable = append(unavailable, p.Name())
			c.logger.Warn("secret backend unavailable, falling through",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
			)
		case errors.Is(err, ErrSecretNotFound):
			continue
		default:
			// Unclassified provider errors are treated as unavailability.
			unavailable = append(unavailable, p.Name())
			c.logger.Warn("secret backend error, falling through",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(unavailable) > 0 {
		return nil, fmt.Errorf("%w: key %q not found (backends unavailable: %s)",
			ErrSecretNotFound, key, strings.Join(unavailable, ", "))
	}
	return nil, fmt.Errorf("%w: key %q not found in any backend", ErrSecretNotFound, key)
}
