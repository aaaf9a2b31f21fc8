package exception_test

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type CustomError struct {
	Msg string
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("CustomError: %s", e.Msg)
}

func TestNewBatchError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	be := exception.NewBatchError("db", "failed to connect", originalErr, false, true)

	assert.Equal(t, "db", be.Module)
	assert.Equal(t, "failed to connect", be.Message)
	assert.Equal(t, originalErr, be.Unwrap())
	assert.True(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())
	assert.Contains(t, be.Error(), "[db] failed to connect: db connection refused")
	assert.NotEmpty(t, be.StackTrace)
}

func TestNewBatchErrorf(t *testing.T) {
	be := exception.NewBatchErrorf("reader", io.ErrUnexpectedEOF, "line %d truncated", 10)
	assert.Equal(t, "line 10 truncated", be.Message)
	assert.ErrorIs(t, be, io.ErrUnexpectedEOF)
	assert.False(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("launch: %w", exception.NewBatchError("launcher", "already complete", exception.ErrJobInstanceAlreadyComplete, false, false))
	assert.ErrorIs(t, err, exception.ErrJobInstanceAlreadyComplete)
	assert.NotErrorIs(t, err, exception.ErrJobExecutionAlreadyRunning)

	be, ok := exception.AsBatchError(err)
	assert.True(t, ok)
	assert.Equal(t, "launcher", be.Module)
}

func TestNewInfrastructureError(t *testing.T) {
	cause := errors.New("disk full")
	err := exception.NewInfrastructureError("checkpoint", "save failed", cause)
	assert.True(t, exception.IsInfrastructure(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, exception.IsInfrastructure(cause))
}

func TestIsErrorOfType(t *testing.T) {
	t.Run("registered prototype", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", io.EOF)
		assert.True(t, exception.IsErrorOfType(err, "io.EOF"))
		assert.False(t, exception.IsErrorOfType(err, "context.Canceled"))
	})

	t.Run("concrete type name", func(t *testing.T) {
		err := exception.NewBatchError("net", "dial failed", &net.OpError{Op: "dial", Err: errors.New("refused")}, false, true)
		assert.True(t, exception.IsErrorOfType(err, "*net.OpError"))
		assert.True(t, exception.IsErrorOfType(err, "net.OpError"))
		assert.True(t, exception.IsErrorOfType(&CustomError{Msg: "x"}, "exception_test.CustomError"))
	})

	t.Run("joined errors", func(t *testing.T) {
		err := errors.Join(errors.New("first"), &CustomError{Msg: "second"})
		assert.True(t, exception.IsErrorOfType(err, "*exception_test.CustomError"))
	})

	t.Run("message substring", func(t *testing.T) {
		assert.True(t, exception.IsErrorOfType(errors.New("malformed row 3"), "malformed row"))
	})

	t.Run("nil and empty", func(t *testing.T) {
		assert.False(t, exception.IsErrorOfType(nil, "io.EOF"))
		assert.False(t, exception.IsErrorOfType(io.EOF, ""))
	})
}

func TestRegisterErrorType(t *testing.T) {
	errQuota := errors.New("quota exceeded")
	exception.RegisterErrorType("QuotaExceeded", errQuota)
	assert.True(t, exception.IsErrorTypeRegistered("QuotaExceeded"))
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("api: %w", errQuota), "QuotaExceeded"))

	assert.Panics(t, func() { exception.RegisterErrorType("", errQuota) })
	assert.Panics(t, func() { exception.RegisterErrorType("Nil", nil) })
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
	assert.Equal(t, "msg", exception.ExtractErrorMessage(exception.NewBatchError("m", "msg", io.EOF, false, false)))
}
