// Package retry decides whether a failed chunk is attempted again and how long
// to wait before the next attempt.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RetryPolicy defines retry logic for one step.
type RetryPolicy interface {
	// ShouldRetry reports whether err is a retryable kind.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before attempt+1 (attempt starts at 1).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the total number of attempts, including the first.
	GetMaxAttempts() int
}

// Config configures the default policy. Intervals are in milliseconds.
type Config struct {
	MaxAttempts         int
	InitialInterval     int
	MaxInterval         int
	Factor              float64
	RetryableExceptions []string
}

// NewRetryPolicy creates the default exponential-backoff policy. MaxAttempts
// below 1 is treated as 1 (no retry).
func NewRetryPolicy(cfg Config) RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Factor < 1 {
		cfg.Factor = 1
	}
	return &defaultRetryPolicy{cfg: cfg}
}

type defaultRetryPolicy struct {
	cfg Config
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.cfg.MaxAttempts
}

// ShouldRetry checks the BatchError flag first, then the configured kinds.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := exception.AsBatchError(err); ok && be.IsRetryable() {
		return true
	}
	for _, typeName := range p.cfg.RetryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ms := float64(p.cfg.InitialInterval) * math.Pow(p.cfg.Factor, float64(attempt-1))
	if p.cfg.MaxInterval > 0 && ms > float64(p.cfg.MaxInterval) {
		ms = float64(p.cfg.MaxInterval)
	}
	return time.Duration(ms) * time.Millisecond
}

// Wait sleeps for the backoff of attempt or until ctx is done.
func Wait(ctx context.Context, p RetryPolicy, attempt int) error {
	d := p.GetBackoffInterval(attempt)
	if d <= 0 {
		return nil
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

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
