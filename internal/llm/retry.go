package llm

import (
	"context"
	"math"
	"time"

	"github.com/artempl88/sozdaibota-sub000/internal/config"
)

// RetryPolicy is exponential backoff with a cap and a bounded retry count
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// NewRetryPolicy builds a policy from configuration
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		MaxRetries: cfg.MaxRetries,
	}
}

// Delay returns the wait before the given retry (1-based):
// base, 2*base, 4*base, ... capped at MaxDelay.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(retry-1)))
	if delay > p.MaxDelay || delay < 0 {
		delay = p.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait sleeps for Delay(retry) or until ctx is done
func (p RetryPolicy) Wait(ctx context.Context, retry int) error {
	return sleepContext(ctx, p.Delay(retry))
}
