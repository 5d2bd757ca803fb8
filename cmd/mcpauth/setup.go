package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/mcpauth/internal/auth"
	"github.com/jkaninda/mcpauth/internal/config"
	"github.com/jkaninda/mcpauth/internal/identity"
	pgstore "github.com/jkaninda/mcpauth/internal/storage/postgres"
)

var (
	setupConfigPath string

	setupUserEmail    string
	setupUserPassword string

	setupSecretUserID string
	setupSecretName   string
	setupSecretValue  string
	setupSecretDesc   string
	setupPrintSQL     bool
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision users and secrets",
	Long: `Provision identity provider users and per-user vault secrets.

Run "setup users" once to create an account, then "setup secrets" to store
that user's external credential under the key the gateway resolves at
request time.`,
}

var setupUsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Create a user in the identity provider",
	RunE:  runSetupUsers,
}

var setupSecretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Store a user's external credential in the vault",
	RunE:  runSetupSecrets,
}

func init() {
	setupCmd.PersistentFlags().StringVar(&setupConfigPath, "config", config.DefaultConfigPath(), "path to config file")

	setupUsersCmd.Flags().StringVar(&setupUserEmail, "email", "", "user email (required)")
	setupUsersCmd.Flags().StringVar(&setupUserPassword, "password", "", "user password (required)")
	_ = setupUsersCmd.MarkFlagRequired("email")
	_ = setupUsersCmd.MarkFlagRequired("password")

	setupSecretsCmd.Flags().StringVar(&setupSecretUserID, "user-id", "", "identity provider user ID the credential belongs to")
	setupSecretsCmd.Flags().StringVar(&setupSecretName, "name", "", "secret name (default: derived from user ID)")
	setupSecretsCmd.Flags().StringVar(&setupSecretValue, "value", "", "secret value (or MCPAUTH_SECRET_VALUE env)")
	setupSecretsCmd.Flags().StringVar(&setupSecretDesc, "description", "", "secret description")
	setupSecretsCmd.Flags().BoolVar(&setupPrintSQL, "print-sql", false, "print the vault bootstrap SQL and exit")

	setupCmd.AddCommand(setupUsersCmd, setupSecretsCmd)
}

func setupLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// runSetupUsers creates a user via the identity provider admin API.
// Creating an existing user is not an error; the existing ID is printed.
func runSetupUsers(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("MCPAUTH_CONFIG", setupConfigPath))
	if err != nil {
		return err
	}

	idClient, err := identity.NewSupabaseClient(identity.SupabaseConfig{
		URL:        cfg.Identity.URL,
		AnonKey:    cfg.Identity.AnonKey,
		ServiceKey: cfg.Identity.ServiceKey,
		Timeout:    cfg.Identity.Timeout(),
	}, setupLogger())
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if existing, err := idClient.FindUserByEmail(ctx, setupUserEmail); err == nil && existing != nil {
		fmt.Printf("user already exists: %s (%s)\n", existing.UserID, existing.Email)
		printSecretHint(existing.UserID, cfg)
		return nil
	}

	created, err := idClient.CreateUser(ctx, identity.NewUser{
		Email:        setupUserEmail,
		Password:     setupUserPassword,
		EmailConfirm: true,
	})
	if err != nil {
		return err
	}

	fmt.Printf("user created: %s (%s)\n", created.UserID, created.Email)
	printSecretHint(created.UserID, cfg)
	return nil
}

// runSetupSecrets writes a credential into the vault under the per-user key.
func runSetupSecrets(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("MCPAUTH_CONFIG", setupConfigPath))
	if err != nil {
		return err
	}

	logger := setupLogger()
	ctx := cmd.Context()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if sc.Vault == nil {
		return fmt.Errorf("no vault provider configured; add a \"vault\" secret provider to %s", setupConfigPath)
	}

	if setupPrintSQL {
		fmt.Println(pgstore.SetupSQL)
		return nil
	}

	name := setupSecretName
	if name == "" {
		if setupSecretUserID == "" {
			return fmt.Errorf("either --name or --user-id is required")
		}
		name = fmt.Sprintf(secretKeyTemplate(cfg), setupSecretUserID)
	}

	value := goutils.Env("MCPAUTH_SECRET_VALUE", setupSecretValue)
	if value == "" {
		return fmt.Errorf("secret value required: use --value or MCPAUTH_SECRET_VALUE")
	}

	// Probe first so a missing extension produces actionable output instead
	// of an opaque SQL error on write.
	if err := sc.Vault.Probe(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "vault probe failed; run this SQL against the database first:")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, pgstore.SetupSQL)
		return fmt.Errorf("vault not ready: %w", err)
	}

	if err := replaceSecret(ctx, sc, name, value); err != nil {
		return err
	}

	// Read back through the same decrypting function the gateway uses so a
	// broken vault key surfaces here instead of at request time.
	readBack, err := sc.Vault.ReadSecret(ctx, name)
	if err != nil {
		return fmt.Errorf("secret stored but read-back failed for %q: %w", name, err)
	}
	if readBack != value {
		return fmt.Errorf("secret stored but read-back mismatch for %q", name)
	}

	fmt.Printf("secret stored and verified: %s\n", name)
	return nil
}

// replaceSecret deletes any existing secret with the name, then creates it.
// vault_create_secret fails on duplicate names, so stores are delete-then-create.
func replaceSecret(ctx context.Context, sc *SharedComponents, name, value string) error {
	if err := sc.Vault.DeleteSecret(ctx, name); err != nil {
		return fmt.Errorf("removing existing secret %q: %w", name, err)
	}
	if _, err := sc.Vault.CreateSecret(ctx, value, name, setupSecretDesc); err != nil {
		return fmt.Errorf("storing secret %q: %w", name, err)
	}
	return nil
}

func secretKeyTemplate(cfg *config.Config) string {
	if cfg.Secrets.KeyTemplate != "" {
		return cfg.Secrets.KeyTemplate
	}
	return auth.DefaultKeyTemplate
}

func printSecretHint(userID string, cfg *config.Config) {
	fmt.Printf("next: mcpauth setup secrets --user-id %s --value <credential>\n", userID)
	fmt.Printf("      (stores under vault key %q)\n", fmt.Sprintf(secretKeyTemplate(cfg), userID))
}
