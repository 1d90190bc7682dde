package observability

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Overall statuses reported by HealthChecker.Summary.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheckResult is the outcome of a single probe.
type HealthCheckResult struct {
	Name    string
	Healthy bool
	Message string
	Latency time.Duration
	Details map[string]any
}

// LatencyMs returns the latency in milliseconds rounded to two decimals.
func (r HealthCheckResult) LatencyMs() float64 {
	ms := float64(r.Latency) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}

// CheckStatus is the per-probe entry of a HealthSummary.
type CheckStatus struct {
	Healthy   bool           `json:"healthy"`
	Message   string         `json:"message"`
	LatencyMs float64        `json:"latency_ms"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthSummary is the serialisable aggregate of every probe.
type HealthSummary struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// ProbeFunc inspects one dependency. A non-nil error marks the probe
// unhealthy with the error text as its message.
type ProbeFunc func(ctx context.Context) (HealthCheckResult, error)

// SimpleProbe adapts a plain error-returning check.
func SimpleProbe(check func(ctx context.Context) error) ProbeFunc {
	return func(ctx context.Context) (HealthCheckResult, error) {
		if err := check(ctx); err != nil {
			return HealthCheckResult{}, err
		}
		return HealthCheckResult{Healthy: true, Message: "OK"}, nil
	}
}

type probe struct {
	fn       ProbeFunc
	critical bool
	timeout  time.Duration
}

// ProbeOption configures a registered probe.
type ProbeOption func(*probe)

// NonCritical marks a probe whose failure degrades rather than fails the
// overall status.
func NonCritical() ProbeOption {
	return func(p *probe) { p.critical = false }
}

// WithProbeTimeout overrides the checker's default timeout for one probe.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *probe) { p.timeout = d }
}

// HealthChecker runs named probes. Probes are independent: one failing,
// hanging or panicking probe never affects another's result.
type HealthChecker struct {
	mu             sync.RWMutex
	probes         map[string]*probe
	timeout        time.Duration
	maxConcurrency int
	logger         *zap.Logger
	now            func() time.Time
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithDefaultProbeTimeout bounds every probe run. Zero disables the bound.
func WithDefaultProbeTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) { h.timeout = d }
}

// WithMaxConcurrency limits how many probes CheckAll runs at once.
func WithMaxConcurrency(n int) HealthOption {
	return func(h *HealthChecker) { h.maxConcurrency = n }
}

// WithHealthLogger sets the logger used for failing probes.
func WithHealthLogger(logger *zap.Logger) HealthOption {
	return func(h *HealthChecker) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHealthChecker returns a checker with no probes registered.
func NewHealthChecker(opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		probes:  make(map[string]*probe),
		timeout: 5 * time.Second,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds or replaces the probe called name.
func (h *HealthChecker) Register(name string, fn ProbeFunc, opts ...ProbeOption) {
	p := &probe{fn: fn, critical: true, timeout: h.timeout}
	for _, opt := range opts {
		opt(p)
	}
	h.mu.Lock()
	h.probes[name] = p
	h.mu.Unlock()
}

// Names returns the registered probe names in sorted order.
func (h *HealthChecker) Names() []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Has reports whether a probe called name is registered.
func (h *HealthChecker) Has(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.probes[name]
	return ok
}

// Check runs one probe. Errors, panics and timeouts are folded into an
// unhealthy result; an unknown name yields an unhealthy result as well.
func (h *HealthChecker) Check(ctx context.Context, name string) HealthCheckResult {
	h.mu.RLock()
	p, ok := h.probes[name]
	h.mu.RUnlock()
	if !ok {
		return HealthCheckResult{
			Name:    name,
			Healthy: false,
			Message: fmt.Sprintf("Unknown health check: %s", name),
		}
	}

	ctx, span := StartSpan(ctx, "health.check", attribute.String("health.check", name))
	defer span.End()

	result := h.run(ctx, name, p)
	span.SetAttributes(attribute.Bool("health.healthy", result.Healthy))
	if !result.Healthy {
		span.SetStatus(codes.Error, result.Message)
		h.logger.Warn("Health check failed",
			zap.String("check", name),
			zap.String("message", result.Message),
			zap.Duration("latency", result.Latency),
		)
	}
	return result
}

func (h *HealthChecker) run(ctx context.Context, name string, p *probe) HealthCheckResult {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	type outcome struct {
		res HealthCheckResult
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("health check panicked: %v", r)}
			}
		}()
		res, err := p.fn(ctx)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: fmt.Errorf("health check timed out: %w", ctx.Err())}
	}

	res := out.res
	res.Name = name
	res.Latency = time.Since(start)
	if out.err != nil {
		res.Healthy = false
		res.Message = out.err.Error()
	}
	return res
}

// CheckAll runs every probe concurrently and returns the results by name.
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]HealthCheckResult {
	names := h.Names()
	results := make(map[string]HealthCheckResult, len(names))
	var mu sync.Mutex

	var g errgroup.Group
	if h.maxConcurrency > 0 {
		g.SetLimit(h.maxConcurrency)
	}
	for _, name := range names {
		g.Go(func() error {
			res := h.Check(ctx, name)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// IsHealthy reports whether every probe passes. A checker without probes
// is healthy.
func (h *HealthChecker) IsHealthy(ctx context.Context) bool {
	for _, r := range h.CheckAll(ctx) {
		if !r.Healthy {
			return false
		}
	}
	return true
}

// Summary runs every probe and aggregates the results. The status is
// unhealthy when a critical probe fails and degraded when only
// non-critical probes fail.
func (h *HealthChecker) Summary(ctx context.Context) HealthSummary {
	results := h.CheckAll(ctx)

	h.mu.RLock()
	critical := make(map[string]bool, len(h.probes))
	for name, p := range h.probes {
		critical[name] = p.critical
	}
	h.mu.RUnlock()

	summary := HealthSummary{
		Status:    StatusHealthy,
		Timestamp: h.now().UTC(),
		Checks:    make(map[string]CheckStatus, len(results)),
	}
	for name, r := range results {
		summary.Checks[name] = CheckStatus{
			Healthy:   r.Healthy,
			Message:   r.Message,
			LatencyMs: r.LatencyMs(),
			Details:   r.Details,
		}
		if r.Healthy {
			continue
		}
		if critical[name] {
			summary.Status = StatusUnhealthy
		} else if summary.Status == StatusHealthy {
			summary.Status = StatusDegraded
		}
	}
	return summary
}
