// Package fault classifies errors raised inside a chunk as SKIPPABLE,
// RETRYABLE or FATAL.
package fault

import (
	"errors"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// Classification is the handling chosen for one error.
type Classification int

const (
	Fatal Classification = iota
	Skippable
	Retryable
)

func (c Classification) String() string {
	switch c {
	case Skippable:
		return "SKIPPABLE"
	case Retryable:
		return "RETRYABLE"
	default:
		return "FATAL"
	}
}

// Policy combines a skip policy and a retry policy into one classifier.
type Policy struct {
	Skip  skip.SkipPolicy
	Retry retry.RetryPolicy
}

// NewPolicy builds a Policy. Nil arguments disable skipping or retrying.
func NewPolicy(s skip.SkipPolicy, r retry.RetryPolicy) *Policy {
	if s == nil {
		s = skip.NewSkipPolicy(0, nil)
	}
	if r == nil {
		r = retry.NewRetryPolicy(retry.Config{MaxAttempts: 1})
	}
	return &Policy{Skip: s, Retry: r}
}

// Classify maps err to its handling. Infrastructure failures and cancellation
// are always FATAL; skippable kinds take precedence over retryable ones.
func (p *Policy) Classify(err error) Classification {
	switch {
	case err == nil:
		return Fatal
	case exception.IsInfrastructure(err):
		return Fatal
	case errors.Is(err, exception.ErrSkipLimitExceeded), errors.Is(err, exception.ErrRetryExhausted):
		return Fatal
	case p.Skip.ShouldSkip(err):
		return Skippable
	case p.Retry.ShouldRetry(err):
		return Retryable
	default:
		return Fatal
	}
}

// ClassifyWrite maps a sink error. Sink errors are never skipped: anything
// but an infrastructure failure is retried for the whole chunk.
func (p *Policy) ClassifyWrite(err error) Classification {
	if err == nil || exception.IsInfrastructure(err) {
		return Fatal
	}
	return Retryable
}

// MaxAttempts is the number of attempts per chunk.
func (p *Policy) MaxAttempts() int {
	return p.Retry.GetMaxAttempts()
}
