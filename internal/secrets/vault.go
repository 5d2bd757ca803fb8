package secrets

import (
	"context"
	"errors"
	"fmt"
)

// VaultReader reads a decrypted secret by name from Supabase Vault.
// The Postgres-backed implementation lives in internal/storage/postgres;
// it must return ErrSecretNotFound when no secret with that name exists.
type VaultReader interface {
	ReadSecret(ctx context.Context, name string) (string, error)
}

// VaultProvider resolves secrets from Supabase Vault. Decryption happens
// server-side inside the vault_read_secret SQL function — this provider only
// sees the plaintext result and never the encryption key.
type VaultProvider struct {
	reader VaultReader
}

// NewVaultProvider creates a vault-backed secret provider.
func NewVaultProvider(reader VaultReader) *VaultProvider {
	return &VaultProvider{reader: reader}
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, key string) (*Secret, error) {
	value, err := p.reader.ReadSecret(ctx, key)
	switch {
	case errors.Is(err, ErrSecretNotFound):
		return nil, fmt.Errorf("%w: vault has no secret named %q", ErrSecretNotFound, key)
	case err != nil:
		return nil, fmt.Errorf("%w: vault read for %q: %v", ErrBackendUnavailable, key, err)
	}
	return &Secret{
		Value: value,
		Metadata: map[string]string{
			"source": "vault",
			"name":   key,
		},
	}, nil
}
