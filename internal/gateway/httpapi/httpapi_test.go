package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/mcpauth/internal/auth"
	"github.com/jkaninda/mcpauth/internal/identity"
	"github.com/jkaninda/mcpauth/internal/mcpbridge"
	"github.com/jkaninda/mcpauth/internal/observability"
	"github.com/jkaninda/mcpauth/internal/secrets"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAuthenticator builds a real Authenticator against a stub identity
// provider, with an empty secret chain.
func newTestAuthenticator(t *testing.T, identityURL string) *auth.Authenticator {
	t.Helper()
	client, err := identity.NewSupabaseClient(identity.SupabaseConfig{
		URL:     identityURL,
		AnonKey: "anon-key",
	}, testLogger())
	if err != nil {
		t.Fatalf("identity client: %v", err)
	}
	return auth.NewAuthenticator(client, secrets.NewChain(testLogger()), "", testLogger())
}

func bearerHeaders(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestAuthFailureStatus_RejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := newTestAuthenticator(t, srv.URL)
	_, err := a.Authenticate(context.Background(), bearerHeaders("bad-token"))
	if err == nil {
		t.Fatal("expected error for rejected token")
	}

	status, outcome := authFailureStatus(err)
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
	if outcome != "unauthorized" {
		t.Errorf("outcome = %q, want unauthorized", outcome)
	}
}

func TestAuthFailureStatus_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newTestAuthenticator(t, srv.URL)
	_, err := a.Authenticate(context.Background(), bearerHeaders("tok-123"))
	if err == nil {
		t.Fatal("expected error for provider failure")
	}

	status, outcome := authFailureStatus(err)
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if outcome != "error" {
		t.Errorf("outcome = %q, want error", outcome)
	}
}

func TestAuthFailureStatus_ProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // Connection refused from here on.

	a := newTestAuthenticator(t, url)
	_, err := a.Authenticate(context.Background(), bearerHeaders("tok-123"))
	if err == nil {
		t.Fatal("expected error for unreachable provider")
	}

	status, outcome := authFailureStatus(err)
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if outcome != "error" {
		t.Errorf("outcome = %q, want error", outcome)
	}
}

func TestAuthFailureStatus_MissingHeader(t *testing.T) {
	// Missing bearer token must be classified without any network call.
	a := newTestAuthenticator(t, "http://identity.invalid")
	_, err := a.Authenticate(context.Background(), http.Header{})
	if err == nil {
		t.Fatal("expected error for missing header")
	}

	status, _ := authFailureStatus(err)
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
}

func TestBridgeErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "no external token",
			err:  fmt.Errorf("list tools: %w", mcpbridge.ErrNoExternalToken),
			want: http.StatusPreconditionFailed,
		},
		{
			name: "unknown server",
			err:  fmt.Errorf("call tool: %w", mcpbridge.ErrUnknownServer),
			want: http.StatusNotFound,
		},
		{
			name: "upstream failure",
			err:  errors.New("initialize: connection reset"),
			want: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bridgeErrorStatus(tt.err); got != tt.want {
				t.Errorf("bridgeErrorStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadinessStatusCode(t *testing.T) {
	h := observability.NewHealthChecker(testLogger())
	h.AddCheck("vault", func(ctx context.Context) error { return nil })

	if got := readinessStatusCode(h.CheckReady(context.Background())); got != http.StatusOK {
		t.Errorf("all-pass code = %d, want 200", got)
	}

	h.AddCheck("identity", func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	if got := readinessStatusCode(h.CheckReady(context.Background())); got != http.StatusServiceUnavailable {
		t.Errorf("degraded code = %d, want 503", got)
	}
}
