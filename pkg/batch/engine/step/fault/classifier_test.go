package fault_test

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func newPolicy() *fault.Policy {
	return fault.NewPolicy(
		skip.NewSkipPolicy(5, []string{"*strconv.NumError"}),
		retry.NewRetryPolicy(retry.Config{MaxAttempts: 3, RetryableExceptions: []string{"*net.OpError"}}),
	)
}

func TestClassify(t *testing.T) {
	_, numErr := strconv.Atoi("abc")
	p := newPolicy()

	assert.Equal(t, fault.Skippable, p.Classify(numErr))
	assert.Equal(t, fault.Retryable, p.Classify(&net.OpError{Op: "read", Err: errors.New("reset")}))
	assert.Equal(t, fault.Fatal, p.Classify(errors.New("unknown")))
	assert.Equal(t, fault.Fatal, p.Classify(exception.NewInfrastructureError("store", "down", numErr)))
	assert.Equal(t, 3, p.MaxAttempts())
}

func TestClassifyWrite(t *testing.T) {
	p := newPolicy()

	assert.Equal(t, fault.Retryable, p.ClassifyWrite(errors.New("constraint violation")))
	assert.Equal(t, fault.Fatal, p.ClassifyWrite(exception.NewInfrastructureError("store", "down", errors.New("x"))))
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := fault.NewPolicy(nil, nil)
	_, numErr := strconv.Atoi("abc")

	assert.Equal(t, fault.Fatal, p.Classify(numErr))
	assert.Equal(t, 1, p.MaxAttempts())
	assert.Equal(t, "SKIPPABLE", fault.Skippable.String())
}
