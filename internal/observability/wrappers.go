package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/mcpauth/internal/identity"
	"github.com/jkaninda/mcpauth/internal/secrets"
)

// --- InstrumentedSecrets ---

// InstrumentedSecrets wraps a secrets.Provider with metrics and tracing.
// Each backend in the chain is wrapped individually, so the counters carry
// the per-backend outcome: "hit", "miss" or "unavailable". Secret values
// never appear in span attributes or metric labels.
type InstrumentedSecrets struct {
	inner   secrets.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSecrets wraps a secret backend with observability.
func NewInstrumentedSecrets(inner secrets.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSecrets {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSecrets{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedSecrets) Name() string { return s.inner.Name() }

func (s *InstrumentedSecrets) Resolve(ctx context.Context, key string) (*secrets.Secret, error) {
	provider := s.inner.Name()

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "secrets.resolve",
			trace.WithAttributes(
				attribute.String("secrets.provider", provider),
			))
		defer span.End()
	}

	secret, err := s.inner.Resolve(ctx, key)

	outcome := "hit"
	switch {
	case err == nil:
	case errors.Is(err, secrets.ErrSecretNotFound):
		outcome = "miss"
	default:
		// ErrBackendUnavailable and anything unclassified.
		outcome = "unavailable"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("secrets.outcome", outcome))
	}
	s.metrics.RecordSecretResolution(provider, outcome)

	return secret, err
}

// --- InstrumentedVerifier ---

// InstrumentedVerifier wraps an identity.Verifier with tracing. Auth outcome
// counters are recorded at the gateway, which sees the full request, so the
// wrapper only contributes the span around the network call.
type InstrumentedVerifier struct {
	inner  identity.Verifier
	tracer trace.Tracer
}

// NewInstrumentedVerifier wraps an identity verifier with observability.
func NewInstrumentedVerifier(inner identity.Verifier, ts *TracerSetup) *InstrumentedVerifier {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedVerifier{inner: inner, tracer: tracer}
}

func (v *InstrumentedVerifier) Verify(ctx context.Context, token string) (*identity.Identity, error) {
	if v.tracer != nil {
		var span trace.Span
		ctx, span = v.tracer.Start(ctx, "identity.verify")
		defer span.End()
	}

	id, err := v.inner.Verify(ctx, token)
	if err != nil && v.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if err == nil && v.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("identity.user_id", id.UserID))
	}

	return id, err
}

// --- Compile-time interface checks ---

var (
	_ secrets.Provider  = (*InstrumentedSecrets)(nil)
	_ identity.Verifier = (*InstrumentedVerifier)(nil)
)
