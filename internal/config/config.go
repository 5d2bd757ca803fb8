// Package config handles loading and validating mcpauth configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for mcpauth.
type Config struct {
	Identity      IdentityConfig       `json:"identity" yaml:"identity"`
	Secrets       SecretsConfig        `json:"secrets" yaml:"secrets"`
	Gateway       GatewayConfig        `json:"gateway" yaml:"gateway"`
	MCP           []MCPServerConfig    `json:"mcp,omitempty" yaml:"mcp,omitempty"`                     // Downstream MCP tool servers.
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
}

// IdentityConfig configures the external identity provider (Supabase GoTrue).
type IdentityConfig struct {
	URL            string `json:"url" yaml:"url"`                                             // Project URL. Override: SUPABASE_URL.
	AnonKey        string `json:"anon_key,omitempty" yaml:"anon_key,omitempty"`               // Override: SUPABASE_ANON_KEY.
	ServiceKey     string `json:"service_key,omitempty" yaml:"service_key,omitempty"`         // Admin operations only. Override: SUPABASE_SERVICE_KEY.
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"` // Default: 5.
}

// Timeout returns the verification HTTP timeout.
func (c IdentityConfig) Timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}

// SecretsConfig configures the secret backend chain.
// Providers are tried strictly in the order listed; the first hit wins.
type SecretsConfig struct {
	Providers   []SecretProviderConfig `json:"providers" yaml:"providers"`
	KeyTemplate string                 `json:"key_template,omitempty" yaml:"key_template,omitempty"` // Default: "github_pat_%s".
}

// SecretProviderConfig configures a single secret backend.
type SecretProviderConfig struct {
	Type   string            `json:"type" yaml:"type"`                         // "vault", "aws_secrets_manager", or "env".
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"` // Backend-specific configuration.
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	ListenAddr        string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`                 // Default: ":8080".
	EnableDocs        bool   `json:"enable_docs" yaml:"enable_docs"`                                     // Serve OpenAPI docs.
	RequestsPerMinute int    `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"` // Per-identity rate limit. 0 = unlimited.
	MaxRequestBytes   int64  `json:"max_request_bytes,omitempty" yaml:"max_request_bytes,omitempty"`     // Default: 1 MB.
}

// Addr returns the listen address, defaulting to ":8080".
func (c GatewayConfig) Addr() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return ":8080"
}

// MCPServerConfig defines a downstream MCP server reached on behalf of users.
// The gateway acts as an MCP client: the authenticated user's external token
// is injected as an Authorization header on every connection.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`                               // Server ID (e.g., "github").
	Transport string            `json:"transport,omitempty" yaml:"transport,omitempty"` // "streamable_http" (default) or "sse".
	URL       string            `json:"url" yaml:"url"`                                 // Server endpoint.
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`     // Extra static headers. Values support ${VAR} expansion.
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"` // Default: "/metrics".
}

// TracingConfig configures OpenTelemetry tracing export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`         // OTLP collector endpoint.
	Protocol    string  `json:"protocol,omitempty" yaml:"protocol,omitempty"`         // "grpc" (default) or "http".
	Insecure    bool    `json:"insecure" yaml:"insecure"`                             // Skip TLS to the collector.
	SampleRate  float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`   // 0..1. Default: 1.0.
	ServiceName string  `json:"service_name,omitempty" yaml:"service_name,omitempty"` // Default: "mcpauth".
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/mcpauth.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".mcpauth", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Identity provider keys and backend credentials can be set in
// the file or overridden by environment variables; env vars take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", resolved, err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets environment variables take precedence over file values.
func (c *Config) applyEnvOverrides() {
	if env := os.Getenv("SUPABASE_URL"); env != "" {
		c.Identity.URL = env
	}
	if env := os.Getenv("SUPABASE_ANON_KEY"); env != "" {
		c.Identity.AnonKey = env
	}
	if env := os.Getenv("SUPABASE_SERVICE_KEY"); env != "" {
		c.Identity.ServiceKey = env
	}
	if env := os.Getenv("MCPAUTH_LISTEN_ADDR"); env != "" {
		c.Gateway.ListenAddr = env
	}
	if env := os.Getenv("MCPAUTH_VAULT_DSN"); env != "" {
		for i := range c.Secrets.Providers {
			if c.Secrets.Providers[i].Type == "vault" {
				if c.Secrets.Providers[i].Config == nil {
					c.Secrets.Providers[i].Config = map[string]string{}
				}
				c.Secrets.Providers[i].Config["dsn"] = env
			}
		}
	}
}

// Validate rejects configurations that cannot work. Misconfiguration is fatal
// at process start, never at request time.
func (c *Config) Validate() error {
	if c.Identity.URL == "" {
		return fmt.Errorf("identity.url is required (or SUPABASE_URL)")
	}
	if c.Identity.AnonKey == "" {
		return fmt.Errorf("identity.anon_key is required (or SUPABASE_ANON_KEY)")
	}
	if len(c.Secrets.Providers) == 0 {
		return fmt.Errorf("at least one secrets provider is required")
	}
	for i, p := range c.Secrets.Providers {
		switch p.Type {
		case "vault":
			if p.Config["dsn"] == "" {
				return fmt.Errorf("secrets.providers[%d]: vault requires config.dsn (or MCPAUTH_VAULT_DSN)", i)
			}
		case "aws_secrets_manager", "env":
			// Credentials come from the ambient AWS chain / process env.
		default:
			return fmt.Errorf("secrets.providers[%d]: unknown type %q", i, p.Type)
		}
	}
	if c.Secrets.KeyTemplate != "" && strings.Count(c.Secrets.KeyTemplate, "%s") != 1 {
		return fmt.Errorf("secrets.key_template must contain exactly one %%s verb")
	}
	for i, srv := range c.MCP {
		if srv.Name == "" {
			return fmt.Errorf("mcp[%d]: name is required", i)
		}
		if srv.URL == "" {
			return fmt.Errorf("mcp[%d] (%s): url is required", i, srv.Name)
		}
		switch srv.Transport {
		case "", "streamable_http", "sse":
		default:
			return fmt.Errorf("mcp[%d] (%s): unsupported transport %q", i, srv.Name, srv.Transport)
		}
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
