// Package mcpbridge connects the gateway to upstream MCP (Model Context
// Protocol) servers on behalf of an authenticated user. Each upstream call
// carries the user's resolved external token as a Bearer header, so a user
// without a propagated credential is refused before any connection is made.
package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/mcpauth/internal/auth"
	"github.com/jkaninda/mcpauth/internal/config"
	"github.com/jkaninda/mcpauth/internal/observability"
)

var (
	// ErrNoExternalToken is returned when the user has no resolved credential
	// to forward upstream.
	ErrNoExternalToken = errors.New("no external token available for upstream access")

	// ErrUnknownServer is returned when the requested server is not configured.
	ErrUnknownServer = errors.New("unknown MCP server")
)

// maxOutputBytes caps flattened tool output returned to callers.
const maxOutputBytes = 256 * 1024

// Tool describes a tool discovered from an upstream MCP server.
type Tool struct {
	Server      string         `json:"server"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// CallResult is the flattened outcome of an upstream tool call.
type CallResult struct {
	Server       string `json:"server"`
	Tool         string `json:"tool"`
	Output       string `json:"output"`
	IsError      bool   `json:"is_error"`
	ContentItems int    `json:"content_items"`
}

// Bridge creates short-lived, per-user MCP client connections to the
// configured upstream servers. Connections are not pooled; each operation
// performs its own initialize handshake so the upstream always sees the
// caller's current credential.
type Bridge struct {
	servers []config.MCPServerConfig
	metrics *observability.MetricsCollector
	logger  *slog.Logger
}

// NewBridge creates a bridge for the configured MCP servers.
// Metrics may be nil.
func NewBridge(servers []config.MCPServerConfig, metrics *observability.MetricsCollector, logger *slog.Logger) *Bridge {
	return &Bridge{servers: servers, metrics: metrics, logger: logger}
}

// Servers returns the names of all configured upstream servers.
func (b *Bridge) Servers() []string {
	names := make([]string, 0, len(b.servers))
	for _, s := range b.servers {
		names = append(names, s.Name)
	}
	return names
}

// ListTools discovers tools from every configured upstream server using the
// user's credential. A server that fails to respond is skipped with a warning
// rather than failing the whole listing.
func (b *Bridge) ListTools(ctx context.Context, user *auth.UserContext) ([]Tool, error) {
	if !user.HasExternalToken() {
		return nil, fmt.Errorf("%w: user %s", ErrNoExternalToken, user.Identity)
	}

	var out []Tool
	for _, srv := range b.servers {
		tools, err := b.listServerTools(ctx, user, srv)
		if err != nil {
			b.logger.WarnContext(ctx, "MCP tool discovery failed",
				slog.String("server", srv.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, tools...)
	}
	return out, nil
}

func (b *Bridge) listServerTools(ctx context.Context, user *auth.UserContext, srv config.MCPServerConfig) ([]Tool, error) {
	c, err := b.connect(ctx, user, srv)
	if err != nil {
		return nil, err
	}
	defer b.closeClient(c, srv.Name)

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing tools on %q: %w", srv.Name, err)
	}

	tools := make([]Tool, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		tools = append(tools, Tool{
			Server:      srv.Name,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertInputSchema(t.InputSchema),
		})
	}
	return tools, nil
}

// CallTool invokes a tool on a named upstream server with the user's
// credential and flattens the response content into a single string.
func (b *Bridge) CallTool(ctx context.Context, user *auth.UserContext, server, tool string, args map[string]any) (*CallResult, error) {
	if !user.HasExternalToken() {
		return nil, fmt.Errorf("%w: user %s", ErrNoExternalToken, user.Identity)
	}

	srv, ok := b.findServer(server)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, server)
	}

	start := time.Now()
	result, err := b.callServerTool(ctx, user, srv, tool, args)
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil:
		b.metrics.RecordMCPCall(server, tool, "error", elapsed)
	case result.IsError:
		b.metrics.RecordMCPCall(server, tool, "tool_error", elapsed)
	default:
		b.metrics.RecordMCPCall(server, tool, "success", elapsed)
	}
	if err != nil {
		return nil, err
	}

	b.logger.InfoContext(ctx, "MCP tool called",
		slog.String("server", server),
		slog.String("tool", tool),
		slog.String("user_id", user.Identity),
		slog.Bool("is_error", result.IsError),
	)
	return result, nil
}

func (b *Bridge) callServerTool(ctx context.Context, user *auth.UserContext, srv config.MCPServerConfig, tool string, args map[string]any) (*CallResult, error) {
	c, err := b.connect(ctx, user, srv)
	if err != nil {
		return nil, err
	}
	defer b.closeClient(c, srv.Name)

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = tool
	callReq.Params.Arguments = args

	callResult, err := c.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s/%s: %w", srv.Name, tool, err)
	}

	return &CallResult{
		Server:       srv.Name,
		Tool:         tool,
		Output:       truncateOutput(formatContent(callResult.Content)),
		IsError:      callResult.IsError,
		ContentItems: len(callResult.Content),
	}, nil
}

// connect creates an MCP client for the server, injects the user's headers,
// and performs the initialize handshake.
func (b *Bridge) connect(ctx context.Context, user *auth.UserContext, srv config.MCPServerConfig) (*mcpclient.Client, error) {
	headers, err := headersFor(user, srv)
	if err != nil {
		return nil, err
	}

	var c *mcpclient.Client
	switch srv.Transport {
	case "sse":
		c, err = mcpclient.NewSSEMCPClient(srv.URL, transport.WithHeaders(headers))
	case "", "streamable_http":
		c, err = mcpclient.NewStreamableHttpClient(srv.URL, transport.WithHTTPHeaders(headers))
	default:
		return nil, fmt.Errorf("unsupported transport: %s", srv.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %q: %w", srv.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "mcpauth",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		b.closeClient(c, srv.Name)
		return nil, fmt.Errorf("MCP initialize for %q: %w", srv.Name, err)
	}
	return c, nil
}

func (b *Bridge) closeClient(c *mcpclient.Client, server string) {
	if err := c.Close(); err != nil {
		b.logger.Error("closing MCP client",
			slog.String("server", server),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bridge) findServer(name string) (config.MCPServerConfig, bool) {
	for _, s := range b.servers {
		if s.Name == name {
			return s, true
		}
	}
	return config.MCPServerConfig{}, false
}

// headersFor builds the upstream request headers for a user: the static
// server headers (with ${VAR} expansion) plus the user's bearer token and id.
func headersFor(user *auth.UserContext, srv config.MCPServerConfig) (map[string]string, error) {
	if !user.HasExternalToken() {
		return nil, fmt.Errorf("%w: user %s", ErrNoExternalToken, user.Identity)
	}

	headers := make(map[string]string, len(srv.Headers)+2)
	for k, v := range srv.Headers {
		headers[k] = os.ExpandEnv(v)
	}
	headers["Authorization"] = "Bearer " + *user.ExternalToken
	headers["X-User-ID"] = user.Identity
	return headers, nil
}

// formatContent converts MCP content items to a single string.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
		} else {
			// Non-text content (image, audio, resource) is serialized as JSON.
			data, _ := json.Marshal(c)
			sb.WriteString(string(data))
		}
	}
	return sb.String()
}

// convertInputSchema converts the MCP ToolInputSchema to a plain map.
func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	result := map[string]any{
		"type": schema.Type,
	}
	if schema.Properties != nil {
		result["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		reqAny := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			reqAny[i] = r
		}
		result["required"] = reqAny
	}
	return result
}

func truncateOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... (output truncated)"
}
