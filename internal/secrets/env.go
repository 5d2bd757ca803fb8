package secrets

import (
	"context"
	"fmt"
	"os"
)

// DefaultEnvVariable is the environment variable consulted when none is configured.
const DefaultEnvVariable = "GITHUB_PAT"

// EnvProvider resolves secrets from a single process environment variable.
// Intended for development only: every key maps to the same shared variable,
// so all users receive the same token.
type EnvProvider struct {
	variable string
}

// NewEnvProvider creates an environment-variable secret provider.
// An empty variable name falls back to DefaultEnvVariable.
func NewEnvProvider(variable string) *EnvProvider {
	if variable == "" {
		variable = DefaultEnvVariable
	}
	return &EnvProvider{variable: variable}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, key string) (*Secret, error) {
	value := os.Getenv(p.variable)
	if value == "" {
		return nil, fmt.Errorf("%w: environment variable %q is not set or empty",
			ErrSecretNotFound, p.variable)
	}
	return &Secret{
		Value: value,
		Metadata: map[string]string{
			"source":   "env",
			"variable": p.variable,
			"key":      key,
			"shared":   "true", // same token for every key
		},
	}, nil
}
