package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jkaninda/mcpauth/internal/secrets"
)

// VaultStore calls the Supabase Vault helper functions. Secrets are encrypted
// at rest by the vault extension; this store only ever sees decrypted values
// returned by vault_read_secret, which runs SECURITY DEFINER server-side.
//
// Implements secrets.VaultReader.
type VaultStore struct {
	db *DB
}

// NewVaultStore creates a vault store over an open connection.
func NewVaultStore(db *DB) *VaultStore {
	return &VaultStore{db: db}
}

// CreateSecret stores a secret under name and returns the vault's secret ID.
func (s *VaultStore) CreateSecret(ctx context.Context, secret, name, description string) (string, error) {
	var id string
	err := s.db.gormDB.WithContext(ctx).
		Raw("SELECT vault_create_secret(?, ?, ?)", secret, name, description).
		Scan(&id).Error
	if err != nil {
		return "", fmt.Errorf("vault_create_secret %q: %w", name, err)
	}
	if id == "" {
		return "", fmt.Errorf("vault_create_secret %q returned no id", name)
	}
	return id, nil
}

// ReadSecret returns the decrypted secret stored under name.
// Returns secrets.ErrSecretNotFound when no secret with that name exists
// (the SQL function returns NULL rather than raising).
func (s *VaultStore) ReadSecret(ctx context.Context, name string) (string, error) {
	var value sql.NullString
	err := s.db.gormDB.WithContext(ctx).
		Raw("SELECT vault_read_secret(?)", name).
		Scan(&value).Error
	if err != nil {
		return "", fmt.Errorf("vault_read_secret %q: %w", name, err)
	}
	if !value.Valid || value.String == "" {
		return "", fmt.Errorf("%w: vault has no secret named %q", secrets.ErrSecretNotFound, name)
	}
	return value.String, nil
}

// DeleteSecret removes the secret stored under name. Deleting a secret that
// does not exist is not an error.
func (s *VaultStore) DeleteSecret(ctx context.Context, name string) error {
	err := s.db.gormDB.WithContext(ctx).
		Exec("SELECT vault_delete_secret(?)", name).Error
	if err != nil {
		return fmt.Errorf("vault_delete_secret %q: %w", name, err)
	}
	return nil
}

// Probe verifies that the vault extension and its helper functions are
// installed by creating and deleting a throwaway secret.
func (s *VaultStore) Probe(ctx context.Context) error {
	name := fmt.Sprintf("vault_probe_%d", time.Now().Unix())
	if _, err := s.CreateSecret(ctx, "probe", name, "vault connectivity probe"); err != nil {
		return fmt.Errorf("vault probe failed (is the supabase_vault extension enabled?): %w", err)
	}
	return s.DeleteSecret(ctx, name)
}

// SetupSQL is the one-time SQL needed in the Supabase project before the
// vault store can be used. Printed by `mcpauth setup secrets` when the probe
// fails; runs in the project's SQL editor with owner privileges.
const SetupSQL = `-- Enable the vault extension
CREATE EXTENSION IF NOT EXISTS supabase_vault WITH SCHEMA vault;

-- Helper functions wrapping the vault API
CREATE OR REPLACE FUNCTION vault_create_secret(secret text, name text default null, description text default null)
RETURNS uuid AS $$
BEGIN
  RETURN vault.create_secret(secret, name, description);
END;
$$ LANGUAGE plpgsql SECURITY DEFINER;

CREATE OR REPLACE FUNCTION vault_read_secret(secret_name text)
RETURNS text AS $$
DECLARE
  result text;
BEGIN
  SELECT decrypted_secret INTO result
  FROM vault.decrypted_secrets
  WHERE name = secret_name;
  RETURN result;
END;
$$ LANGUAGE plpgsql SECURITY DEFINER;

CREATE OR REPLACE FUNCTION vault_delete_secret(secret_name text)
RETURNS void AS $$
BEGIN
  DELETE FROM vault.secrets WHERE name = secret_name;
END;
$$ LANGUAGE plpgsql SECURITY DEFINER;`
