package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// maxResponseBytes caps identity provider response bodies.
const maxResponseBytes = 1 << 20 // 1 MB

// SupabaseConfig configures the Supabase (GoTrue) client.
type SupabaseConfig struct {
	URL        string        // Project URL, e.g. "https://xyz.supabase.co".
	AnonKey    string        // Publishable key, sent as the apikey header on user calls.
	ServiceKey string        // Service-role key for admin operations. Optional for verify-only use.
	Timeout    time.Duration // HTTP timeout. Default: 5s.
}

// SupabaseClient talks to the Supabase auth (GoTrue) REST API.
// It implements Verifier and additionally exposes the admin operations the
// setup tooling needs (create/list users, password-grant sign-in).
// Safe for concurrent use.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	serviceKey string
	client     *http.Client
	logger     *slog.Logger
}

// NewSupabaseClient validates the config and builds a client.
// Missing URL or anon key is a startup error, not a per-request one.
func NewSupabaseClient(cfg SupabaseConfig, logger *slog.Logger) (*SupabaseClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required (set identity.url or SUPABASE_URL)")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("supabase anon key is required (set identity.anon_key or SUPABASE_ANON_KEY)")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SupabaseClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		serviceKey: cfg.ServiceKey,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// supabaseUser is the GoTrue user object, trimmed to the fields consumed here.
type supabaseUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u supabaseUser) identity() *Identity {
	return &Identity{UserID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

// Verify confirms the token with GET /auth/v1/user.
// Empty tokens are rejected before any network I/O.
func (c *SupabaseClient) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty bearer token", ErrUnauthorized)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading verify response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode.
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: identity provider rejected token", ErrUnauthorized)
	default:
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var user supabaseUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("parsing verify response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: identity provider returned no user", ErrUnauthorized)
	}

	if c.logger != nil {
		c.logger.Debug("token verified",
			slog.String("user_id", user.ID),
			slog.String("email", user.Email),
		)
	}
	return user.identity(), nil
}

// Ping probes GET /auth/v1/health. Used by the gateway readiness check.
func (c *SupabaseClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity provider health returned status %d", resp.StatusCode)
	}
	return nil
}

// --- Admin and sign-in operations (setup/demo tooling only) ---

// NewUser describes a user to create via the admin API.
type NewUser struct {
	Email        string
	Password     string
	EmailConfirm bool
	Metadata     map[string]any
}

// Session is the result of a password-grant sign-in.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	User        Identity
}

// CreateUser creates a user with POST /auth/v1/admin/users.
// Requires the service-role key.
func (c *SupabaseClient) CreateUser(ctx context.Context, u NewUser) (*Identity, error) {
	payload := map[string]any{
		"email":         u.Email,
		"password":      u.Password,
		"email_confirm": u.EmailConfirm,
	}
	if len(u.Metadata) > 0 {
		payload["user_metadata"] = u.Metadata
	}

	var created supabaseUser
	if err := c.adminRequest(ctx, http.MethodPost, "/auth/v1/admin/users", payload, &created); err != nil {
		return nil, fmt.Errorf("creating user %s: %w", u.Email, err)
	}
	return created.identity(), nil
}

// ListUsers lists users with GET /auth/v1/admin/users.
// Requires the service-role key.
func (c *SupabaseClient) ListUsers(ctx context.Context) ([]Identity, error) {
	var page struct {
		Users []supabaseUser `json:"users"`
	}
	if err := c.adminRequest(ctx, http.MethodGet, "/auth/v1/admin/users", nil, &page); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	identities := make([]Identity, len(page.Users))
	for i, u := range page.Users {
		identities[i] = *u.identity()
	}
	return identities, nil
}

// FindUserByEmail returns the user with the given email, or nil.
func (c *SupabaseClient) FindUserByEmail(ctx context.Context, email string) (*Identity, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			return &users[i], nil
		}
	}
	return nil, nil
}

// SignInWithPassword exchanges email/password for an access token via
// POST /auth/v1/token?grant_type=password. Uses the anon key.
func (c *SupabaseClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encoding sign-in request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v1/token?grant_type=password", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building sign-in request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading sign-in response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: sign-in for %s failed with status %d", ErrUnauthorized, email, resp.StatusCode)
	}

	var session struct {
		AccessToken string       `json:"access_token"`
		ExpiresAt   int64        `json:"expires_at"`
		User        supabaseUser `json:"user"`
	}
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, fmt.Errorf("parsing sign-in response: %w", err)
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("%w: sign-in returned no session", ErrUnauthorized)
	}

	return &Session{
		AccessToken: session.AccessToken,
		ExpiresAt:   time.Unix(session.ExpiresAt, 0).UTC(),
		User:        *session.User.identity(),
	}, nil
}

// adminRequest performs a service-key request and decodes the JSON response into out.
func (c *SupabaseClient) adminRequest(ctx context.Context, method, path string, payload, out any) error {
	if c.serviceKey == "" {
		return fmt.Errorf("service key is required for admin operations (set identity.service_key or SUPABASE_SERVICE_KEY)")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identity provider returned status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
