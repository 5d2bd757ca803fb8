package secrets

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeVaultReader maps secret names to values.
type fakeVaultReader struct {
	secrets map[string]string
	err     error
}

func (f *fakeVaultReader) ReadSecret(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	value, ok := f.secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}
	return value, nil
}

func TestVaultProvider_Resolve(t *testing.T) {
	p := NewVaultProvider(&fakeVaultReader{
		secrets: map[string]string{"github_pat_u1": "ghp_vault"},
	})

	secret, err := p.Resolve(context.Background(), "github_pat_u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret.Value != "ghp_vault" {
		t.Errorf("got Value=%q, want %q", secret.Value, "ghp_vault")
	}
	if secret.Metadata["source"] != "vault" {
		t.Errorf("got source=%q, want %q", secret.Metadata["source"], "vault")
	}
}

func TestVaultProvider_NotFound(t *testing.T) {
	p := NewVaultProvider(&fakeVaultReader{secrets: map[string]string{}})

	_, err := p.Resolve(context.Background(), "github_pat_missing")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
	if errors.Is(err, ErrBackendUnavailable) {
		t.Error("genuine absence must not look like an outage")
	}
}

func TestVaultProvider_StoreErrorIsUnavailable(t *testing.T) {
	p := NewVaultProvider(&fakeVaultReader{err: errors.New("connection refused")})

	_, err := p.Resolve(context.Background(), "github_pat_u1")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
	if errors.Is(err, ErrSecretNotFound) {
		t.Error("an outage must not look like genuine absence")
	}
}
