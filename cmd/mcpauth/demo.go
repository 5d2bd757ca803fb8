package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/mcpauth/internal/config"
	"github.com/jkaninda/mcpauth/internal/identity"
)

// Exit codes for the demo command.
const (
	ExitSuccess            = 0
	ExitFailure            = 1
	ExitUnauthorized       = 2
	ExitGatewayUnavailable = 3
)

var (
	demoConfigPath string
	demoGatewayURL string
	demoEmail      string
	demoPassword   string
	demoToken      string
	demoServer     string
	demoTool       string
	demoArgsJSON   string
	demoTimeout    int
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an end-to-end check against a running gateway",
	Long: `Sign in, then exercise a running gateway end to end:
whoami, tool discovery, and optionally a tool call.

Examples:
  mcpauth demo --email u1@example.com --password secret
  mcpauth demo --token $TOKEN --server github --tool list_issues

Exit codes:
  0  success
  1  execution failure
  2  unauthorized
  3  gateway unavailable`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoConfigPath, "config", config.DefaultConfigPath(), "path to config file (for sign-in)")
	demoCmd.Flags().StringVar(&demoGatewayURL, "gateway-url", "http://localhost:8080", "gateway HTTP API URL")
	demoCmd.Flags().StringVar(&demoEmail, "email", "", "user email for sign-in")
	demoCmd.Flags().StringVar(&demoPassword, "password", "", "user password for sign-in")
	demoCmd.Flags().StringVar(&demoToken, "token", "", "access token (skips sign-in; or MCPAUTH_TOKEN env)")
	demoCmd.Flags().StringVar(&demoServer, "server", "", "MCP server to call a tool on (optional)")
	demoCmd.Flags().StringVar(&demoTool, "tool", "", "tool to call (requires --server)")
	demoCmd.Flags().StringVar(&demoArgsJSON, "args", "{}", "tool arguments as JSON")
	demoCmd.Flags().IntVar(&demoTimeout, "timeout", 60, "timeout in seconds")
}

func runDemo(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(demoTimeout)*time.Second)
	defer cancel()

	gatewayURL := goutils.Env("MCPAUTH_GATEWAY_URL", demoGatewayURL)

	token, err := demoAccessToken(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: sign-in failed: %v\n", err)
		os.Exit(ExitUnauthorized)
	}

	// whoami: identity and credential provisioning state.
	var whoami struct {
		Identity         string `json:"identity"`
		Email            string `json:"email"`
		HasExternalToken bool   `json:"has_external_token"`
	}
	if err := demoGet(ctx, gatewayURL+"/v1/whoami", token, &whoami); err != nil {
		return err
	}
	fmt.Printf("authenticated as %s (%s)\n", whoami.Identity, whoami.Email)
	if whoami.HasExternalToken {
		fmt.Println("external credential: provisioned")
	} else {
		fmt.Println("external credential: not provisioned (tool calls will be refused)")
	}

	// Tool discovery.
	var tools struct {
		Servers []string `json:"servers"`
		Tools   []struct {
			Server string `json:"server"`
			Name   string `json:"name"`
		} `json:"tools"`
	}
	if err := demoGet(ctx, gatewayURL+"/v1/tools", token, &tools); err != nil {
		return err
	}
	fmt.Printf("servers: %v, tools discovered: %d\n", tools.Servers, len(tools.Tools))
	for _, t := range tools.Tools {
		fmt.Printf("  %s/%s\n", t.Server, t.Name)
	}

	// Optional tool call.
	if demoServer != "" && demoTool != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(demoArgsJSON), &args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --args JSON: %v\n", err)
			os.Exit(ExitFailure)
		}

		body, _ := json.Marshal(map[string]any{
			"server":    demoServer,
			"tool":      demoTool,
			"arguments": args,
		})
		req, err := http.NewRequestWithContext(ctx, "POST", gatewayURL+"/v1/tools/call", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		var result struct {
			Output  string `json:"output"`
			IsError bool   `json:"is_error"`
		}
		if err := demoDo(req, &result); err != nil {
			return err
		}
		fmt.Printf("tool output (is_error=%v):\n%s\n", result.IsError, result.Output)
	}

	os.Exit(ExitSuccess)
	return nil
}

// demoAccessToken resolves the access token from flag, env, or sign-in.
func demoAccessToken(ctx context.Context) (string, error) {
	if token := goutils.Env("MCPAUTH_TOKEN", demoToken); token != "" {
		return token, nil
	}
	if demoEmail == "" || demoPassword == "" {
		return "", fmt.Errorf("provide --token or both --email and --password")
	}

	cfg, err := config.Load(goutils.Env("MCPAUTH_CONFIG", demoConfigPath))
	if err != nil {
		return "", err
	}
	idClient, err := identity.NewSupabaseClient(identity.SupabaseConfig{
		URL:     cfg.Identity.URL,
		AnonKey: cfg.Identity.AnonKey,
		Timeout: cfg.Identity.Timeout(),
	}, setupLogger())
	if err != nil {
		return "", err
	}
	session, err := idClient.SignInWithPassword(ctx, demoEmail, demoPassword)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

func demoGet(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return demoDo(req, out)
}

// demoDo executes the request and decodes the response, exiting with the
// documented code on gateway or auth failures.
func demoDo(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach gateway at %s: %v\n", req.URL.Host, err)
		os.Exit(ExitGatewayUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return json.Unmarshal(respBody, out)
	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check token)")
		os.Exit(ExitUnauthorized)
	case http.StatusPreconditionFailed:
		fmt.Fprintln(os.Stderr, "Error: no external credential provisioned (run mcpauth setup secrets)")
		os.Exit(ExitFailure)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: gateway unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitGatewayUnavailable)
	default:
		fmt.Fprintf(os.Stderr, "Error: gateway returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}
	return nil
}
