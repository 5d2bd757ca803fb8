// mcpauth — identity-aware credential propagation gateway for MCP servers.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcpauth",
	Short: "mcpauth — identity-aware credential propagation gateway for MCP servers.",
	Long: `mcpauth authenticates callers against an external identity provider,
resolves their personal credentials from a chain of secret backends
(Supabase Vault, AWS Secrets Manager, environment), and forwards
MCP tool calls upstream with the resolved credential attached.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, setupCmd, tokenCmd, demoCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
