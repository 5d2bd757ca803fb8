package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jkaninda/mcpauth/internal/identity"
	"github.com/jkaninda/mcpauth/internal/secrets"
)

type fakeProvider struct {
	name   string
	secret *secrets.Secret
	err    error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Resolve(ctx context.Context, key string) (*secrets.Secret, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.secret, nil
}

type fakeVerifier struct {
	id  *identity.Identity
	err error
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (*identity.Identity, error) {
	return f.id, f.err
}

func recordingTracerSetup() (*TracerSetup, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return &TracerSetup{provider: tp, tracer: tp.Tracer(tracerName)}, sr
}

func resolutionCount(t *testing.T, m *MetricsCollector, provider, outcome string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "mcpauth_secrets_resolutions_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := labelMap(metric.GetLabel())
			if labels["provider"] == provider && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestInstrumentedSecrets_RecordsOutcomes(t *testing.T) {
	m := NewMetricsCollector()

	hit := NewInstrumentedSecrets(&fakeProvider{
		name:   "env",
		secret: &secrets.Secret{Value: "ghp_abc"},
	}, m, nil)
	miss := NewInstrumentedSecrets(&fakeProvider{
		name: "vault",
		err:  fmt.Errorf("%w: no row", secrets.ErrSecretNotFound),
	}, m, nil)
	down := NewInstrumentedSecrets(&fakeProvider{
		name: "aws_secrets_manager",
		err:  fmt.Errorf("%w: connection refused", secrets.ErrBackendUnavailable),
	}, m, nil)

	ctx := context.Background()
	if _, err := hit.Resolve(ctx, "k"); err != nil {
		t.Fatalf("hit resolve: %v", err)
	}
	if _, err := miss.Resolve(ctx, "k"); !errors.Is(err, secrets.ErrSecretNotFound) {
		t.Fatalf("miss resolve err = %v", err)
	}
	if _, err := down.Resolve(ctx, "k"); !errors.Is(err, secrets.ErrBackendUnavailable) {
		t.Fatalf("down resolve err = %v", err)
	}

	if got := resolutionCount(t, m, "env", "hit"); got != 1 {
		t.Errorf("env hit count = %v, want 1", got)
	}
	if got := resolutionCount(t, m, "vault", "miss"); got != 1 {
		t.Errorf("vault miss count = %v, want 1", got)
	}
	if got := resolutionCount(t, m, "aws_secrets_manager", "unavailable"); got != 1 {
		t.Errorf("aws unavailable count = %v, want 1", got)
	}
}

// A chain built over wrapped backends must produce resolution samples even
// when a backend outage degrades the lookup to a miss.
func TestInstrumentedSecrets_ChainOutageStillRecorded(t *testing.T) {
	m := NewMetricsCollector()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	chain := secrets.NewChain(logger,
		NewInstrumentedSecrets(&fakeProvider{
			name: "vault",
			err:  fmt.Errorf("%w: dial tcp: connection refused", secrets.ErrBackendUnavailable),
		}, m, nil),
		NewInstrumentedSecrets(&fakeProvider{
			name:   "env",
			secret: &secrets.Secret{Value: "ghp_abc"},
		}, m, nil),
	)

	secret, err := chain.Resolve(context.Background(), "github_pat_u1")
	if err != nil {
		t.Fatalf("chain resolve: %v", err)
	}
	if secret.Value != "ghp_abc" {
		t.Errorf("value = %q, want fallback hit", secret.Value)
	}

	if got := resolutionCount(t, m, "vault", "unavailable"); got != 1 {
		t.Errorf("vault unavailable count = %v, want 1", got)
	}
	if got := resolutionCount(t, m, "env", "hit"); got != 1 {
		t.Errorf("env hit count = %v, want 1", got)
	}
}

func TestInstrumentedSecrets_NilMetricsNilTracer(t *testing.T) {
	// No observability wired at all: resolution must still work.
	s := NewInstrumentedSecrets(&fakeProvider{
		name:   "env",
		secret: &secrets.Secret{Value: "v"},
	}, nil, nil)

	secret, err := s.Resolve(context.Background(), "k")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if secret.Value != "v" {
		t.Errorf("value = %q, want v", secret.Value)
	}
	if s.Name() != "env" {
		t.Errorf("name = %q, want env", s.Name())
	}
}

func TestInstrumentedSecrets_Span(t *testing.T) {
	ts, sr := recordingTracerSetup()

	s := NewInstrumentedSecrets(&fakeProvider{
		name: "vault",
		err:  fmt.Errorf("%w: timeout", secrets.ErrBackendUnavailable),
	}, nil, ts)

	_, _ = s.Resolve(context.Background(), "k")

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("span count = %d, want 1", len(spans))
	}
	if spans[0].Name() != "secrets.resolve" {
		t.Errorf("span name = %q, want secrets.resolve", spans[0].Name())
	}
	attrs := make(map[string]string)
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["secrets.provider"] != "vault" {
		t.Errorf("provider attr = %q, want vault", attrs["secrets.provider"])
	}
	if attrs["secrets.outcome"] != "unavailable" {
		t.Errorf("outcome attr = %q, want unavailable", attrs["secrets.outcome"])
	}
}

func TestInstrumentedVerifier_Span(t *testing.T) {
	ts, sr := recordingTracerSetup()

	v := NewInstrumentedVerifier(&fakeVerifier{
		id: &identity.Identity{UserID: "u1", Email: "u1@example.com"},
	}, ts)

	id, err := v.Verify(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "u1" {
		t.Errorf("user id = %q, want u1", id.UserID)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("span count = %d, want 1", len(spans))
	}
	if spans[0].Name() != "identity.verify" {
		t.Errorf("span name = %q, want identity.verify", spans[0].Name())
	}
}

func TestInstrumentedVerifier_PassesThroughError(t *testing.T) {
	wantErr := fmt.Errorf("%w: rejected", identity.ErrUnauthorized)
	v := NewInstrumentedVerifier(&fakeVerifier{err: wantErr}, nil)

	_, err := v.Verify(context.Background(), "bad")
	if !errors.Is(err, identity.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
