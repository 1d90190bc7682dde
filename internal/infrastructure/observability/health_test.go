package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(msg string) ProbeFunc {
	return func(context.Context) (HealthCheckResult, error) {
		return HealthCheckResult{Healthy: true, Message: msg}, nil
	}
}

func failing(msg string) ProbeFunc {
	return func(context.Context) (HealthCheckResult, error) {
		return HealthCheckResult{}, errors.New(msg)
	}
}

func TestHealthChecker(t *testing.T) {
	t.Run("Should run a named probe and measure latency", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("db", func(context.Context) (HealthCheckResult, error) {
			time.Sleep(5 * time.Millisecond)
			return HealthCheckResult{Healthy: true, Message: "Database OK", Details: map[string]any{"conns": 3}}, nil
		})

		res := h.Check(context.Background(), "db")
		assert.Equal(t, "db", res.Name)
		assert.True(t, res.Healthy)
		assert.Equal(t, "Database OK", res.Message)
		assert.GreaterOrEqual(t, res.Latency, 5*time.Millisecond)
		assert.Equal(t, 3, res.Details["conns"])
	})

	t.Run("Should report unknown probes as unhealthy", func(t *testing.T) {
		res := NewHealthChecker().Check(context.Background(), "nope")
		assert.False(t, res.Healthy)
		assert.Equal(t, "Unknown health check: nope", res.Message)
	})

	t.Run("Should turn errors into unhealthy results", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("cache", failing("connection refused"))

		res := h.Check(context.Background(), "cache")
		assert.False(t, res.Healthy)
		assert.Equal(t, "connection refused", res.Message)
	})

	t.Run("Should recover from panicking probes", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("bad", func(context.Context) (HealthCheckResult, error) {
			panic("kaput")
		})

		res := h.Check(context.Background(), "bad")
		assert.False(t, res.Healthy)
		assert.Contains(t, res.Message, "kaput")
	})

	t.Run("Should time out hanging probes", func(t *testing.T) {
		h := NewHealthChecker(WithDefaultProbeTimeout(20 * time.Millisecond))
		h.Register("slow", func(ctx context.Context) (HealthCheckResult, error) {
			<-ctx.Done()
			time.Sleep(time.Second)
			return HealthCheckResult{Healthy: true}, nil
		})

		start := time.Now()
		res := h.Check(context.Background(), "slow")
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.False(t, res.Healthy)
		assert.Contains(t, res.Message, "timed out")
	})

	t.Run("Should apply per-probe timeouts", func(t *testing.T) {
		h := NewHealthChecker(WithDefaultProbeTimeout(time.Hour))
		h.Register("slow", func(ctx context.Context) (HealthCheckResult, error) {
			<-ctx.Done()
			return HealthCheckResult{}, ctx.Err()
		}, WithProbeTimeout(10*time.Millisecond))

		res := h.Check(context.Background(), "slow")
		assert.False(t, res.Healthy)
	})

	t.Run("Should adapt simple probes", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("ok", SimpleProbe(func(context.Context) error { return nil }))
		h.Register("ko", SimpleProbe(func(context.Context) error { return errors.New("down") }))

		assert.True(t, h.Check(context.Background(), "ok").Healthy)
		assert.Equal(t, "down", h.Check(context.Background(), "ko").Message)
	})

	t.Run("Should list probes in sorted order", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("b", healthy(""))
		h.Register("a", healthy(""))
		assert.Equal(t, []string{"a", "b"}, h.Names())
		assert.True(t, h.Has("a"))
		assert.False(t, h.Has("c"))
	})
}

func TestHealthCheckerCheckAll(t *testing.T) {
	t.Run("Should isolate probes from each other", func(t *testing.T) {
		h := NewHealthChecker(WithDefaultProbeTimeout(50 * time.Millisecond))
		h.Register("ok", healthy("fine"))
		h.Register("err", failing("nope"))
		h.Register("panic", func(context.Context) (HealthCheckResult, error) { panic("x") })
		h.Register("hang", func(ctx context.Context) (HealthCheckResult, error) {
			<-ctx.Done()
			return HealthCheckResult{}, ctx.Err()
		})

		results := h.CheckAll(context.Background())
		require.Len(t, results, 4)
		assert.True(t, results["ok"].Healthy)
		assert.False(t, results["err"].Healthy)
		assert.False(t, results["panic"].Healthy)
		assert.False(t, results["hang"].Healthy)
	})

	t.Run("Should run probes concurrently", func(t *testing.T) {
		h := NewHealthChecker()
		for _, name := range []string{"a", "b", "c", "d"} {
			h.Register(name, func(context.Context) (HealthCheckResult, error) {
				time.Sleep(50 * time.Millisecond)
				return HealthCheckResult{Healthy: true}, nil
			})
		}

		start := time.Now()
		h.CheckAll(context.Background())
		assert.Less(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("Should respect the concurrency limit", func(t *testing.T) {
		h := NewHealthChecker(WithMaxConcurrency(2))
		var active, peak atomic.Int32
		for _, name := range []string{"a", "b", "c", "d", "e"} {
			h.Register(name, func(context.Context) (HealthCheckResult, error) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return HealthCheckResult{Healthy: true}, nil
			})
		}

		h.CheckAll(context.Background())
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("Should be healthy when nothing is registered", func(t *testing.T) {
		h := NewHealthChecker()
		assert.True(t, h.IsHealthy(context.Background()))
		assert.Equal(t, StatusHealthy, h.Summary(context.Background()).Status)
	})
}

func TestHealthSummary(t *testing.T) {
	t.Run("Should be healthy when every probe passes", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("a", healthy("A ok"))
		h.Register("b", healthy("B ok"))

		s := h.Summary(context.Background())
		assert.Equal(t, StatusHealthy, s.Status)
		assert.Equal(t, "A ok", s.Checks["a"].Message)
		assert.False(t, s.Timestamp.IsZero())
		assert.True(t, h.IsHealthy(context.Background()))
	})

	t.Run("Should be unhealthy when a critical probe fails", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("a", healthy(""))
		h.Register("db", failing("down"))

		s := h.Summary(context.Background())
		assert.Equal(t, StatusUnhealthy, s.Status)
		assert.False(t, s.Checks["db"].Healthy)
		assert.False(t, h.IsHealthy(context.Background()))
	})

	t.Run("Should only degrade when a non-critical probe fails", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("a", healthy(""))
		h.Register("runtime", failing("too many goroutines"), NonCritical())

		s := h.Summary(context.Background())
		assert.Equal(t, StatusDegraded, s.Status)
		assert.False(t, h.IsHealthy(context.Background()))
	})

	t.Run("Should round latency to two decimals", func(t *testing.T) {
		r := HealthCheckResult{Latency: 1234567 * time.Nanosecond}
		assert.Equal(t, 1.23, r.LatencyMs())
	})
}

func TestCircuitBreakerProbe(t *testing.T) {
	t.Run("Should open after consecutive failures and stop calling the probe", func(t *testing.T) {
		var calls atomic.Int32
		probe := WithCircuitBreaker("db", func(context.Context) (HealthCheckResult, error) {
			calls.Add(1)
			return HealthCheckResult{}, errors.New("refused")
		}, BreakerSettings{ConsecutiveFailures: 2, Timeout: time.Hour}, nil)

		for i := 0; i < 2; i++ {
			_, err := probe(context.Background())
			assert.Error(t, err)
		}
		res, err := probe(context.Background())
		require.NoError(t, err)
		assert.False(t, res.Healthy)
		assert.Equal(t, "circuit breaker open", res.Message)
		assert.Equal(t, "open", res.Details["breaker_state"])
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Should count unhealthy results as failures", func(t *testing.T) {
		probe := WithCircuitBreaker("cache", func(context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{Healthy: false, Message: "degraded"}, nil
		}, BreakerSettings{ConsecutiveFailures: 1, Timeout: time.Hour}, nil)

		res, err := probe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "degraded", res.Message)

		res, _ = probe(context.Background())
		assert.Equal(t, "circuit breaker open", res.Message)
	})

	t.Run("Should close again after a successful trial", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		probe := WithCircuitBreaker("db", func(context.Context) (HealthCheckResult, error) {
			if fail.Load() {
				return HealthCheckResult{}, errors.New("refused")
			}
			return HealthCheckResult{Healthy: true, Message: "OK"}, nil
		}, BreakerSettings{ConsecutiveFailures: 1, Timeout: 20 * time.Millisecond}, nil)

		_, err := probe(context.Background())
		require.Error(t, err)
		fail.Store(false)
		time.Sleep(40 * time.Millisecond)

		res, err := probe(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Healthy)
	})

	t.Run("Should surface through the checker", func(t *testing.T) {
		h := NewHealthChecker()
		h.Register("db", WithCircuitBreaker("db", failing("refused"), BreakerSettings{ConsecutiveFailures: 1, Timeout: time.Hour}, nil))

		assert.Equal(t, "refused", h.Check(context.Background(), "db").Message)
		assert.Equal(t, "circuit breaker open", h.Check(context.Background(), "db").Message)
	})
}

func TestHealthSummaryMixedProbes(t *testing.T) {
	h := NewHealthChecker()
	h.Register("db", healthy("Database OK"))
	h.Register("cache", failing("cache unreachable"))

	assert.False(t, h.IsHealthy(context.Background()))

	s := h.Summary(context.Background())
	require.Len(t, s.Checks, 2)
	assert.True(t, s.Checks["db"].Healthy)
	assert.False(t, s.Checks["cache"].Healthy)
}
