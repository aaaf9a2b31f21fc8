package retry_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := retry.NewRetryPolicy(retry.Config{
		MaxAttempts:         3,
		RetryableExceptions: []string{"*net.OpError", "context.DeadlineExceeded"},
	})

	assert.True(t, p.ShouldRetry(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, p.ShouldRetry(context.DeadlineExceeded))
	assert.True(t, p.ShouldRetry(exception.NewBatchError("reader", "flaky", nil, false, true)))
	assert.False(t, p.ShouldRetry(errors.New("boom")))
	assert.False(t, p.ShouldRetry(nil))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := retry.NewRetryPolicy(retry.Config{MaxAttempts: 5, InitialInterval: 100, MaxInterval: 300, Factor: 2})

	assert.Equal(t, 5, p.GetMaxAttempts())
	assert.Equal(t, 100*time.Millisecond, p.GetBackoffInterval(1))
	assert.Equal(t, 200*time.Millisecond, p.GetBackoffInterval(2))
	assert.Equal(t, 300*time.Millisecond, p.GetBackoffInterval(3), "capped at max interval")
}

func TestRetryPolicy_MinimumOneAttempt(t *testing.T) {
	p := retry.NewRetryPolicy(retry.Config{})
	assert.Equal(t, 1, p.GetMaxAttempts())
	assert.Equal(t, time.Duration(0), p.GetBackoffInterval(1))
}

func TestWait_Cancelled(t *testing.T) {
	p := retry.NewRetryPolicy(retry.Config{MaxAttempts: 2, InitialInterval: 60000})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, retry.Wait(ctx, p, 1), context.Canceled)
}
