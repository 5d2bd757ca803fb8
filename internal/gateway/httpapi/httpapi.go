// Package httpapi implements the HTTP API gateway for mcpauth.
//
// Security:
//   - Bearer token authentication against the identity provider on every request
//   - Resolved credentials never appear in responses or logs
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/mcpauth/internal/auth"
	"github.com/jkaninda/mcpauth/internal/identity"
	"github.com/jkaninda/mcpauth/internal/mcpbridge"
	"github.com/jkaninda/mcpauth/internal/observability"
	"github.com/jkaninda/mcpauth/internal/ratelimit"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	MaxRequestSize int64 // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config        Config
	authenticator *auth.Authenticator
	bridge        *mcpbridge.Bridge
	limiter       *ratelimit.Limiter
	logger        *slog.Logger
	server        *http.Server
	okapi         *okapi.Okapi
	group         *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, authenticator *auth.Authenticator, bridge *mcpbridge.Bridge, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:        cfg,
		authenticator: authenticator,
		bridge:        bridge,
		limiter:       rl,
		logger:        logger,
		okapi:         okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithOpenAPIDocs enables the OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "mcpauth",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Get("/whoami", g.handleWhoami,
		okapi.DocSummary("Describe the authenticated caller"),
		okapi.DocTags("Identity"),
		okapi.DocResponse(WhoamiResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/tools", g.handleTools,
		okapi.DocSummary("List tools from all upstream MCP servers"),
		okapi.DocTags("Tools"),
		okapi.DocResponse(ToolListResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusPreconditionFailed, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/tools/call", g.handleToolCall,
		okapi.DocSummary("Call a tool on an upstream MCP server"),
		okapi.DocTags("Tools"),
		okapi.DocRequestBody(ToolCallRequest{}),
		okapi.DocResponse(ToolCallResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusPreconditionFailed, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Authentication ---

// authFailureStatus maps an authentication error to the HTTP status and the
// auth metric outcome label. A rejected token is the caller's problem (401);
// anything else means the identity provider could not be consulted (503).
func authFailureStatus(err error) (int, string) {
	if errors.Is(err, identity.ErrUnauthorized) {
		return http.StatusUnauthorized, "unauthorized"
	}
	return http.StatusServiceUnavailable, "error"
}

// authenticate verifies the bearer token with the identity provider and
// resolves the caller's external credential. The resolved token is carried in
// the request scope only and never written to responses or logs.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		correlationID := uuid.New().String()
		c.Set("correlationID", correlationID)
		c.Response().Header().Set("X-Correlation-ID", correlationID)

		user, err := g.authenticator.Authenticate(c.Context(), c.Request().Header)
		if err != nil {
			status, outcome := authFailureStatus(err)
			g.config.Metrics.RecordAuthAttempt(outcome)
			if status == http.StatusUnauthorized {
				return c.AbortUnauthorized("Unauthorized")
			}
			g.logger.Error("authentication failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			return c.AbortServiceUnavailable("identity provider unavailable")
		}
		g.config.Metrics.RecordAuthAttempt("ok")

		c.Set("userID", user.Identity)
		c.Set("userEmail", user.Email)
		if user.HasExternalToken() {
			c.Set("externalToken", *user.ExternalToken)
		}

		return next(c)
	}
}

// currentUser rebuilds the authenticated user from request scope.
func (g *Gateway) currentUser(c *okapi.Context) *auth.UserContext {
	user := &auth.UserContext{
		Identity: c.GetString("userID"),
		Email:    c.GetString("userEmail"),
	}
	if token := c.GetString("externalToken"); token != "" {
		user.ExternalToken = &token
	}
	return user
}

// bridgeErrorStatus maps tool discovery and invocation errors to HTTP
// statuses. An unprovisioned credential is a precondition failure (412): the
// request is well-formed and authenticated, the user just has no external
// token stored yet.
func bridgeErrorStatus(err error) int {
	switch {
	case errors.Is(err, mcpbridge.ErrNoExternalToken):
		return http.StatusPreconditionFailed
	case errors.Is(err, mcpbridge.ErrUnknownServer):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// readinessStatusCode maps the health checker verdict to the /readyz status.
func readinessStatusCode(status observability.HealthStatus) int {
	if status.Status != "ok" {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// --- Handlers ---

// WhoamiResponse is the JSON response for GET /v1/whoami.
// The resolved credential itself is never returned.
type WhoamiResponse struct {
	Identity         string `json:"identity"`
	Email            string `json:"email"`
	HasExternalToken bool   `json:"has_external_token"`
}

func (g *Gateway) handleWhoami(c *okapi.Context) error {
	user := g.currentUser(c)
	return c.OK(WhoamiResponse{
		Identity:         user.Identity,
		Email:            user.Email,
		HasExternalToken: user.HasExternalToken(),
	})
}

// ToolListResponse is the JSON response for GET /v1/tools.
type ToolListResponse struct {
	Servers []string         `json:"servers"`
	Tools   []mcpbridge.Tool `json:"tools"`
}

func (g *Gateway) handleTools(c *okapi.Context) error {
	user := g.currentUser(c)

	if g.limiter != nil {
		if err := g.limiter.Allow(user.Identity); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	tools, err := g.bridge.ListTools(c.Context(), user)
	if err != nil {
		if bridgeErrorStatus(err) == http.StatusPreconditionFailed {
			return c.JSON(http.StatusPreconditionFailed, ErrorBody{Error: "no external credential provisioned for this user"})
		}
		g.logger.Error("tool discovery failed",
			slog.String("user_id", user.Identity),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("tool discovery failed")
	}
	if tools == nil {
		tools = []mcpbridge.Tool{}
	}

	return c.OK(ToolListResponse{
		Servers: g.bridge.Servers(),
		Tools:   tools,
	})
}

// ToolCallRequest is the JSON body for POST /v1/tools/call.
type ToolCallRequest struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResponse is the JSON response for POST /v1/tools/call.
type ToolCallResponse struct {
	Server        string `json:"server"`
	Tool          string `json:"tool"`
	Output        string `json:"output"`
	IsError       bool   `json:"is_error"`
	CorrelationID string `json:"correlation_id"`
}

func (g *Gateway) handleToolCall(c *okapi.Context) error {
	user := g.currentUser(c)

	if g.limiter != nil {
		if err := g.limiter.Allow(user.Identity); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ToolCallRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Server == "" {
		return c.AbortBadRequest("server is required")
	}
	if req.Tool == "" {
		return c.AbortBadRequest("tool is required")
	}

	correlationID := c.GetString("correlationID")

	g.logger.Info("tool call",
		slog.String("user_id", user.Identity),
		slog.String("correlation_id", correlationID),
		slog.String("server", req.Server),
		slog.String("tool", req.Tool),
	)

	result, err := g.bridge.CallTool(c.Context(), user, req.Server, req.Tool, req.Arguments)
	if err != nil {
		switch bridgeErrorStatus(err) {
		case http.StatusPreconditionFailed:
			return c.JSON(http.StatusPreconditionFailed, ErrorBody{Error: "no external credential provisioned for this user"})
		case http.StatusNotFound:
			return c.JSON(http.StatusNotFound, ErrorBody{Error: "unknown server: " + req.Server})
		default:
			g.logger.Error("tool call failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			return c.AbortInternalServerError("tool call failed")
		}
	}

	return c.OK(ToolCallResponse{
		Server:        result.Server,
		Tool:          result.Tool,
		Output:        result.Output,
		IsError:       result.IsError,
		CorrelationID: correlationID,
	})
}

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	return c.JSON(readinessStatusCode(status), status)
}
