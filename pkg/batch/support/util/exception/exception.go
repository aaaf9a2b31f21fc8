// Package exception defines the error vocabulary of the engine: BatchError, the
// error-kind registry consulted by failure policies, and the sentinel kinds that
// launchers and steps surface to callers.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a prototype error under a name that failure-policy
// configuration can reference. Matching uses errors.Is against the prototype.
// It panics on an empty name or nil prototype.
func RegisterErrorType(name string, prototype error) {
	if name == "" {
		panic("error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("cannot register nil prototype for name: %s", name))
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name was registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BatchError is the error type produced by engine components.
type BatchError struct {
	// Module names the component that failed (e.g. "reader", "writer", "launcher").
	Module      string
	Message     string
	OriginalErr error
	isRetryable bool
	isSkippable bool
	StackTrace  string
}

// NewBatchError creates a BatchError capturing the current goroutine's stack.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf formats the message and wraps cause. Flags default to false.
func NewBatchErrorf(module string, cause error, format string, a ...interface{}) *BatchError {
	return NewBatchError(module, fmt.Sprintf(format, a...), cause, false, false)
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports the retryable flag set at construction.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable reports the skippable flag set at construction.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// AsBatchError finds the first BatchError in err's chain.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Sentinel kinds. Wrap them (directly or via BatchError) so callers can use errors.Is.
var (
	ErrOptimisticLockingFailure   = errors.New("OptimisticLockingFailure")
	ErrJobInstanceAlreadyComplete = errors.New("JobInstanceAlreadyComplete")
	ErrJobExecutionAlreadyRunning = errors.New("JobExecutionAlreadyRunning")
	ErrNoSuchJob                  = errors.New("NoSuchJob")
	ErrInfrastructure             = errors.New("InfrastructureFailure")
	ErrSkipLimitExceeded          = errors.New("SkipLimitExceeded")
	ErrRetryExhausted             = errors.New("RetryExhausted")
	ErrSinkWrite                  = errors.New("SinkWriteFailure")
	ErrInvalidJobParameters       = errors.New("InvalidJobParameters")
)

// NewOptimisticLockingFailure reports a lost update on a versioned row.
func NewOptimisticLockingFailure(module, message string) *BatchError {
	return NewBatchError(module, message, ErrOptimisticLockingFailure, false, false)
}

// NewInfrastructureError marks err as a failure of the engine's own storage.
// Infrastructure errors are never skipped or retried by item policies.
func NewInfrastructureError(module, message string, err error) *BatchError {
	if err == nil {
		return NewBatchError(module, message, ErrInfrastructure, false, false)
	}
	return NewBatchError(module, message, errors.Join(ErrInfrastructure, err), false, false)
}

// IsOptimisticLockingFailure reports whether err is a lost-update failure.
func IsOptimisticLockingFailure(err error) bool {
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// IsInfrastructure reports whether err is an infrastructure failure.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

// IsErrorOfType matches err against a configured kind name. It tries, in order:
// errors.Is against a registered prototype, the concrete type name of any error
// in the chain ("*net.OpError"), and finally a substring of an error message.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil || errorTypeName == "" {
		return false
	}

	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	matched := false
	walk(err, func(e error) bool {
		t := reflect.TypeOf(e)
		if t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName) {
			matched = true
			return false
		}
		if strings.Contains(e.Error(), errorTypeName) {
			matched = true
			return false
		}
		return true
	})
	return matched
}

// walk visits err and every error it wraps, including errors.Join branches.
// visit returns false to stop.
func walk(err error, visit func(error) bool) bool {
	if err == nil {
		return true
	}
	if !visit(err) {
		return false
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if !walk(inner, visit) {
				return false
			}
		}
	case interface{ Unwrap() error }:
		return walk(u.Unwrap(), visit)
	}
	return true
}

// ExtractErrorMessage returns a BatchError's Message, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := err.(*BatchError); ok {
		return be.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType("OptimisticLockingFailure", ErrOptimisticLockingFailure)
	RegisterErrorType("InfrastructureFailure", ErrInfrastructure)
	RegisterErrorType("io.EOF", io.EOF)
	RegisterErrorType("io.ErrUnexpectedEOF", io.ErrUnexpectedEOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("net.ErrClosed", net.ErrClosed)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
}
