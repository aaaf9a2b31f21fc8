package test

import (
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// NewTestJobParameters creates JobParameters from a plain map.
func NewTestJobParameters(params map[string]interface{}) model.JobParameters {
	jp := model.NewJobParameters()
	for k, v := range params {
		jp.Put(k, v)
	}
	return jp
}

// NewTestJobInstance creates a JobInstance, failing the test on a hashing error.
func NewTestJobInstance(t *testing.T, jobName string, params model.JobParameters) *model.JobInstance {
	t.Helper()
	ji, err := model.NewJobInstance(jobName, params)
	require.NoError(t, err)
	return ji
}

// NewTestJobExecution creates a STARTED JobExecution for a fresh instance of jobName.
func NewTestJobExecution(t *testing.T, jobName string) *model.JobExecution {
	t.Helper()
	ji := NewTestJobInstance(t, jobName, model.NewJobParameters())
	je := model.NewJobExecution(ji.ID, jobName, ji.Parameters)
	require.NoError(t, je.MarkAsStarted())
	return je
}

// NewTestExecutionContext creates an ExecutionContext from a plain map.
func NewTestExecutionContext(data map[string]interface{}) model.ExecutionContext {
	ec := model.NewExecutionContext()
	for k, v := range data {
		ec.Put(k, v)
	}
	return ec
}
