package main

import (
	"fmt"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/mcpauth/internal/config"
	"github.com/jkaninda/mcpauth/internal/identity"
)

var (
	tokenConfigPath string
	tokenEmail      string
	tokenPassword   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Obtain an access token for a user",
	Long: `Sign in with email and password and print the resulting access token.
The token authenticates requests to the gateway:

  curl -H "Authorization: Bearer <token>" http://localhost:8080/v1/whoami`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "user email (required)")
	tokenCmd.Flags().StringVar(&tokenPassword, "password", "", "user password (or MCPAUTH_PASSWORD env)")
	_ = tokenCmd.MarkFlagRequired("email")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("MCPAUTH_CONFIG", tokenConfigPath))
	if err != nil {
		return err
	}

	password := goutils.Env("MCPAUTH_PASSWORD", tokenPassword)
	if password == "" {
		return fmt.Errorf("password required: use --password or MCPAUTH_PASSWORD")
	}

	idClient, err := identity.NewSupabaseClient(identity.SupabaseConfig{
		URL:     cfg.Identity.URL,
		AnonKey: cfg.Identity.AnonKey,
		Timeout: cfg.Identity.Timeout(),
	}, setupLogger())
	if err != nil {
		return err
	}

	session, err := idClient.SignInWithPassword(cmd.Context(), tokenEmail, password)
	if err != nil {
		return err
	}

	fmt.Println(session.AccessToken)
	fmt.Printf("\n# user: %s (%s), expires: %s\n", session.User.UserID, session.User.Email, session.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("# curl -H \"Authorization: Bearer $TOKEN\" http://localhost:8080/v1/whoami\n")
	return nil
}
