package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jkaninda/mcpauth/internal/identity"
	"github.com/jkaninda/mcpauth/internal/secrets"
)

// fakeVerifier maps tokens to identities and counts verification calls.
type fakeVerifier struct {
	tokens map[string]identity.Identity
	calls  int
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (*identity.Identity, error) {
	f.calls++
	id, ok := f.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", identity.ErrUnauthorized)
	}
	return &id, nil
}

// fakeBackend is a secrets.Provider over a map, counting lookups.
type fakeBackend struct {
	name    string
	secrets map[string]string
	err     error
	calls   int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Resolve(_ context.Context, key string) (*secrets.Secret, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.secrets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q", secrets.ErrSecretNotFound, f.name, key)
	}
	return &secrets.Secret{Value: value, Metadata: map[string]string{"source": f.name}}, nil
}

func headersWithToken(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestAuthenticate_MissingHeaderNoNetwork(t *testing.T) {
	verifier := &fakeVerifier{}
	backend := &fakeBackend{name: "vault"}
	a := NewAuthenticator(verifier, secrets.NewChain(nil, backend), "", nil)

	cases := []http.Header{
		{},
		{"Authorization": []string{""}},
		{"Authorization": []string{"Basic dXNlcjpwYXNz"}},
		{"Authorization": []string{"Bearer "}},
	}
	for _, h := range cases {
		_, err := a.Authenticate(context.Background(), h)
		if !errors.Is(err, identity.ErrUnauthorized) {
			t.Errorf("headers %v: expected ErrUnauthorized, got %v", h, err)
		}
	}
	if verifier.calls != 0 {
		t.Errorf("verifier contacted %d times for missing tokens, want 0", verifier.calls)
	}
	if backend.calls != 0 {
		t.Errorf("secret backend contacted %d times for missing tokens, want 0", backend.calls)
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	verifier := &fakeVerifier{tokens: map[string]identity.Identity{}}
	backend := &fakeBackend{name: "vault"}
	a := NewAuthenticator(verifier, secrets.NewChain(nil, backend), "", nil)

	_, err := a.Authenticate(context.Background(), headersWithToken("revoked"))
	if !errors.Is(err, identity.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if backend.calls != 0 {
		t.Errorf("secret backend contacted %d times after rejected token, want 0", backend.calls)
	}
}

func TestAuthenticate_IdentityMatchesProvider(t *testing.T) {
	verifier := &fakeVerifier{tokens: map[string]identity.Identity{
		"tok-123": {UserID: "u1", Email: "u1@example.com"},
	}}
	a := NewAuthenticator(verifier, secrets.NewChain(nil, &fakeBackend{name: "vault"}), "", nil)

	user, err := a.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Identity != "u1" {
		t.Errorf("got Identity=%q, want provider user id %q", user.Identity, "u1")
	}
	if user.Email != "u1@example.com" {
		t.Errorf("got Email=%q, want %q", user.Email, "u1@example.com")
	}
}

func TestAuthenticate_SecondBackendHit(t *testing.T) {
	verifier := &fakeVerifier{tokens: map[string]identity.Identity{
		"tok-123": {UserID: "u1", Email: "u1@example.com"},
	}}
	vault := &fakeBackend{name: "vault"} // empty: must be attempted and miss
	env := &fakeBackend{name: "env", secrets: map[string]string{"github_pat_u1": "ghp_abc"}}
	aws := &fakeBackend{name: "aws_secrets_manager", secrets: map[string]string{"github_pat_u1": "never"}}
	a := NewAuthenticator(verifier, secrets.NewChain(nil, vault, env, aws), "", nil)

	user, err := a.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !user.HasExternalToken() || *user.ExternalToken != "ghp_abc" {
		t.Fatalf("got ExternalToken=%v, want ghp_abc from second backend", user.ExternalToken)
	}
	if vault.calls != 1 {
		t.Errorf("first-priority backend attempted %d times, want 1", vault.calls)
	}
	if aws.calls != 0 {
		t.Errorf("backend after the hit contacted %d times, want 0", aws.calls)
	}
}

func TestAuthenticate_NoSecretAnywhere(t *testing.T) {
	verifier := &fakeVerifier{tokens: map[string]identity.Identity{
		"tok-123": {UserID: "u1", Email: "u1@example.com"},
	}}
	a := NewAuthenticator(verifier, secrets.NewChain(nil,
		&fakeBackend{name: "vault"},
		&fakeBackend{name: "env"},
	), "", nil)

	user, err := a.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("absent secret must not be an error: %v", err)
	}
	if user.ExternalToken != nil {
		t.Errorf("got ExternalToken=%v, want nil", *user.ExternalToken)
	}
	if user.HasExternalToken() {
		t.Error("HasExternalToken should be false")
	}
}

func TestAuthenticate_BackendOutageDegradesToNoToken(t *testing.T) {
	verifier := &fakeVerifier{tokens: map[string]identity.Identity{
		"tok-123": {UserID: "u1", Email: "u1@example.com"},
	}}
	down := &fakeBackend{name: "vault", err: fmt.Errorf("%w: dial tcp: refused", secrets.ErrBackendUnavailable)}
	a := NewAuthenticator(verifier, secrets.NewChain(nil, down), "", nil)

	user, err := a.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("backend outage must not fail authentication: %v", err)
	}
	if user.ExternalToken != nil {
		t.Error("expected nil ExternalToken during backend outage")
	}
}

func TestAuthenticate_Idempotent(t *testing.T) {
	verifier := &fakeVerifier{tokens: map[string]identity.Identity{
		"tok-123": {UserID: "u1", Email: "u1@example.com"},
	}}
	vault := &fakeBackend{name: "vault", secrets: map[string]string{"github_pat_u1": "ghp_abc"}}
	a := NewAuthenticator(verifier, secrets.NewChain(nil, vault), "", nil)

	first, err := a.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	second, err := a.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}
	if first.Identity != second.Identity || first.Email != second.Email {
		t.Error("identity fields differ across identical calls")
	}
	if *first.ExternalToken != *second.ExternalToken {
		t.Error("external token differs across identical calls")
	}
	// No caching: both calls re-verified.
	if verifier.calls != 2 {
		t.Errorf("verifier called %d times, want 2 (no caching)", verifier.calls)
	}
}

// The documented end-to-end scenario: vault has nothing for the user, the
// environment carries a shared development token.
func TestAuthenticate_EnvFallbackScenario(t *testing.T) {
	t.Setenv("GITHUB_PAT", "ghp_abc")

	verifier := &fakeVerifier{tokens: map[string]identity.Identity{
		"tok-123": {UserID: "u1", Email: "u1@example.com"},
	}}
	vault := &fakeBackend{name: "vault"}

	withEnv := NewAuthenticator(verifier,
		secrets.NewChain(nil, vault, secrets.NewEnvProvider("")), "", nil)
	user, err := withEnv.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Identity != "u1" || user.Email != "u1@example.com" {
		t.Errorf("got %q/%q, want u1/u1@example.com", user.Identity, user.Email)
	}
	if !user.HasExternalToken() || *user.ExternalToken != "ghp_abc" {
		t.Fatalf("got ExternalToken=%v, want ghp_abc via env fallback", user.ExternalToken)
	}

	withoutEnv := NewAuthenticator(verifier, secrets.NewChain(nil, vault), "", nil)
	user, err = withoutEnv.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ExternalToken != nil {
		t.Error("without the env backend the token must be nil")
	}
}

func TestAuthenticate_CustomKeyTemplate(t *testing.T) {
	verifier := &fakeVerifier{tokens: map[string]identity.Identity{
		"tok-123": {UserID: "u1"},
	}}
	vault := &fakeBackend{name: "vault", secrets: map[string]string{"user_u1_github_pat": "ghp_x"}}
	a := NewAuthenticator(verifier, secrets.NewChain(nil, vault), "user_%s_github_pat", nil)

	user, err := a.Authenticate(context.Background(), headersWithToken("tok-123"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !user.HasExternalToken() || *user.ExternalToken != "ghp_x" {
		t.Errorf("got ExternalToken=%v, want ghp_x", user.ExternalToken)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"plain", "Bearer tok-123", "tok-123"},
		{"padded", "Bearer   tok-123  ", "tok-123"},
		{"empty scheme", "Bearer ", ""},
		{"wrong scheme", "Basic abc", ""},
		{"no header", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.value != "" {
				h.Set("Authorization", tc.value)
			}
			if got := BearerToken(h); got != tc.want {
				t.Errorf("BearerToken(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}
