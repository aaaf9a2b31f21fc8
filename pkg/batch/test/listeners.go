package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MockJobListener is a testify mock of port.JobExecutionListener.
type MockJobListener struct {
	mock.Mock
}

func (m *MockJobListener) BeforeJob(ctx context.Context, je *model.JobExecution) error {
	return m.Called(ctx, je).Error(0)
}

func (m *MockJobListener) AfterJob(ctx context.Context, je *model.JobExecution) error {
	return m.Called(ctx, je).Error(0)
}

// MockStepListener is a testify mock of port.StepExecutionListener.
type MockStepListener struct {
	mock.Mock
}

func (m *MockStepListener) BeforeStep(ctx context.Context, se *model.StepExecution) error {
	return m.Called(ctx, se).Error(0)
}

func (m *MockStepListener) AfterStep(ctx context.Context, se *model.StepExecution) error {
	return m.Called(ctx, se).Error(0)
}

// RecordingSkipListener remembers every skip notification.
type RecordingSkipListener struct {
	ReadErrs     []error
	ProcessItems []interface{}
}

func (l *RecordingSkipListener) OnSkipRead(ctx context.Context, err error) {
	l.ReadErrs = append(l.ReadErrs, err)
}

func (l *RecordingSkipListener) OnSkipProcess(ctx context.Context, item interface{}, err error) {
	l.ProcessItems = append(l.ProcessItems, item)
}

// RecordingChunkListener counts chunk callbacks.
type RecordingChunkListener struct {
	Before, After, Errors int
}

func (l *RecordingChunkListener) BeforeChunk(ctx context.Context, se *model.StepExecution) { l.Before++ }
func (l *RecordingChunkListener) AfterChunk(ctx context.Context, se *model.StepExecution)  { l.After++ }
func (l *RecordingChunkListener) AfterChunkError(ctx context.Context, se *model.StepExecution, err error) {
	l.Errors++
}
