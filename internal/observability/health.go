package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Per-probe deadline. The vault database and the identity provider are both
// remote, so a hung dependency must not stall the readiness endpoint.
const probeTimeout = 3 * time.Second

// ProbeFunc checks one gateway dependency. It must respect ctx cancellation.
type ProbeFunc func(ctx context.Context) error

// HealthChecker aggregates readiness of the gateway's hard dependencies:
// the vault database and the identity provider. Liveness is independent of
// either — a gateway with an unreachable vault still serves requests, it
// just resolves no credentials from that backend.
type HealthChecker struct {
	mu     sync.Mutex
	probes []probe
	logger *slog.Logger
}

type probe struct {
	name string
	fn   ProbeFunc
}

// HealthStatus is the JSON body for the health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency probe.
type CheckResult struct {
	Status    string `json:"status"`            // "ok" or "fail"
	Message   string `json:"message,omitempty"` // Error message on failure.
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthChecker creates a HealthChecker with no probes registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named dependency probe. Safe to call concurrently.
func (h *HealthChecker) AddCheck(name string, fn ProbeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, fn: fn})
}

// CheckHealth is the liveness answer: "ok" whenever the process is up.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady probes every registered dependency concurrently, each with its
// own deadline, and reports "degraded" if any fails. A gateway with no
// probes registered (env-only secret chain) is always ready.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	probes := make([]probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	if len(probes) == 0 {
		return HealthStatus{Status: "ok"}
	}

	results := make([]CheckResult, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.fn(probeCtx)
			latency := time.Since(start).Milliseconds()

			if err != nil {
				results[i] = CheckResult{Status: "fail", Message: err.Error(), LatencyMS: latency}
				return
			}
			results[i] = CheckResult{Status: "ok", LatencyMS: latency}
		}(i, p)
	}
	wg.Wait()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(probes)),
	}
	for i, p := range probes {
		status.Checks[p.name] = results[i]
		if results[i].Status != "ok" {
			status.Status = "degraded"
			if h.logger != nil {
				h.logger.Warn("readiness probe failed",
					slog.String("check", p.name),
					slog.String("error", results[i].Message),
				)
			}
		}
	}
	return status
}
