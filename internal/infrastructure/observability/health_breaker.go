package observability

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures the circuit breaker guarding a probe.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

var errProbeUnhealthy = errors.New("probe reported unhealthy")

// WithCircuitBreaker wraps fn so that after ConsecutiveFailures failed runs
// the probe short-circuits to unhealthy until the breaker's Timeout elapses,
// sparing a struggling dependency from repeated polling.
func WithCircuitBreaker(name string, fn ProbeFunc, settings BreakerSettings, logger *zap.Logger) ProbeFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 3
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Health check circuit breaker state changed",
				zap.String("check", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return func(ctx context.Context) (HealthCheckResult, error) {
		var res HealthCheckResult
		_, err := cb.Execute(func() (interface{}, error) {
			var runErr error
			res, runErr = fn(ctx)
			if runErr != nil {
				return nil, runErr
			}
			if !res.Healthy {
				return nil, errProbeUnhealthy
			}
			return nil, nil
		})

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return HealthCheckResult{
				Healthy: false,
				Message: "circuit breaker open",
				Details: map[string]any{"breaker_state": cb.State().String()},
			}, nil
		case errors.Is(err, errProbeUnhealthy):
			return res, nil
		case err != nil:
			return HealthCheckResult{Details: map[string]any{"breaker_state": cb.State().String()}}, err
		}
		return res, nil
	}
}
