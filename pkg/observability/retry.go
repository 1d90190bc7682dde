package observability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// RetryConfig configures retries of failed PutMetricData batches.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64 // 0 to 1
}

// DefaultRetryConfig retries twice, starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

var throttlingCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"ThrottledException":       true,
	"RequestLimitExceeded":     true,
	"TooManyRequestsException": true,
}

// retryable reports whether err is transient: throttling, a server-side
// fault or a deadline on the individual call.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return throttlingCodes[ae.ErrorCode()] || ae.ErrorFault() == smithy.FaultServer
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// delay returns the backoff before retry number attempt, counted from 0.
func (c RetryConfig) delay(attempt int) time.Duration {
	base := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if base > float64(c.MaxDelay) {
		base = float64(c.MaxDelay)
	}
	d := base + c.JitterFactor*base*(rand.Float64()*2-1)
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// withRetry runs fn until it succeeds, returns a permanent error, retries
// are exhausted or ctx ends.
func withRetry(ctx context.Context, cfg RetryConfig, logger *zap.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt+1, err)
		}
		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retry",
					zap.String("operation", op),
					zap.Int("attempt", attempt+1),
				)
			}
			return nil
		}
		if attempt == cfg.MaxRetries || !retryable(lastErr) {
			break
		}

		wait := cfg.delay(attempt)
		logger.Warn("Retrying operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", wait),
			zap.Error(lastErr),
		)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
		}
	}
	return lastErr
}
