package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeProvider records calls and returns a canned response.
type fakeProvider struct {
	name   string
	secret *Secret
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Resolve(_ context.Context, _ string) (*Secret, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.secret, nil
}

func notFound(name string) error {
	return fmt.Errorf("%w: no secret in %s", ErrSecretNotFound, name)
}

func unavailable(name string) error {
	return fmt.Errorf("%w: %s is down", ErrBackendUnavailable, name)
}

func TestChain_FirstHitWins(t *testing.T) {
	first := &fakeProvider{name: "vault", secret: &Secret{Value: "from-vault"}}
	second := &fakeProvider{name: "aws_secrets_manager", secret: &Secret{Value: "from-aws"}}

	chain := NewChain(nil, first, second)
	secret, err := chain.Resolve(context.Background(), "github_pat_u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret.Value != "from-vault" {
		t.Errorf("got Value=%q, want %q", secret.Value, "from-vault")
	}
	if second.calls != 0 {
		t.Errorf("second backend contacted %d times after first hit, want 0", second.calls)
	}
}

func TestChain_FallthroughToSecondBackend(t *testing.T) {
	first := &fakeProvider{name: "vault", err: notFound("vault")}
	second := &fakeProvider{name: "env", secret: &Secret{Value: "ghp_abc"}}
	third := &fakeProvider{name: "aws_secrets_manager", secret: &Secret{Value: "never"}}

	chain := NewChain(nil, first, second, third)
	secret, err := chain.Resolve(context.Background(), "github_pat_u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret.Value != "ghp_abc" {
		t.Errorf("got Value=%q, want %q", secret.Value, "ghp_abc")
	}
	if first.calls != 1 {
		t.Errorf("first backend attempted %d times, want 1", first.calls)
	}
	if third.calls != 0 {
		t.Errorf("backend after the hit contacted %d times, want 0", third.calls)
	}
}

func TestChain_AllMiss(t *testing.T) {
	chain := NewChain(nil,
		&fakeProvider{name: "vault", err: notFound("vault")},
		&fakeProvider{name: "env", err: notFound("env")},
	)
	_, err := chain.Resolve(context.Background(), "github_pat_u2")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
	if strings.Contains(err.Error(), "unavailable") {
		t.Errorf("clean miss should not mention unavailable backends: %v", err)
	}
}

func TestChain_UnavailableBackendDegradesToMiss(t *testing.T) {
	down := &fakeProvider{name: "vault", err: unavailable("vault")}
	hit := &fakeProvider{name: "env", secret: &Secret{Value: "ghp_abc"}}

	chain := NewChain(nil, down, hit)
	secret, err := chain.Resolve(context.Background(), "github_pat_u1")
	if err != nil {
		t.Fatalf("Resolve should degrade outage to a miss: %v", err)
	}
	if secret.Value != "ghp_abc" {
		t.Errorf("got Value=%q, want %q", secret.Value, "ghp_abc")
	}
}

// A total miss with an unreachable backend must stay distinguishable from
// genuine absence: the caller cannot know the secret is absent when one of
// the backends never answered.
func TestChain_UnavailableBackendNamedInMissError(t *testing.T) {
	chain := NewChain(nil,
		&fakeProvider{name: "vault", err: unavailable("vault")},
		&fakeProvider{name: "env", err: notFound("env")},
	)
	_, err := chain.Resolve(context.Background(), "github_pat_u1")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "vault") || !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("miss error should name the unreachable backend: %v", err)
	}
}

func TestChain_NoProviders(t *testing.T) {
	chain := NewChain(nil)
	_, err := chain.Resolve(context.Background(), "anything")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestChain_Providers(t *testing.T) {
	chain := NewChain(nil,
		&fakeProvider{name: "vault"},
		&fakeProvider{name: "aws_secrets_manager"},
		&fakeProvider{name: "env"},
	)
	got := chain.Providers()
	want := []string{"vault", "aws_secrets_manager", "env"}
	if len(got) != len(want) {
		t.Fatalf("got %d providers, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("provider[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
