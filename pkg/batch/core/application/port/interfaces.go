// Package port declares the contracts between the engine and user code: item
// readers, processors and writers, steps, jobs and their listeners.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// ErrNoMoreItems is returned by ItemReader.Read when the source is exhausted.
var ErrNoMoreItems = errors.New("no more items to read")

// ErrFilterItem is returned by ItemProcessor.Process to drop an item on purpose.
// Filtered items are counted in FilterCount and never reach the writer.
var ErrFilterItem = errors.New("item filtered")

// Job is an executable batch job.
type Job interface {
	JobName() string
	// Run drives the job to a terminal status recorded on jobExecution. The
	// returned error is the cause of a FAILED status, if any.
	Run(ctx context.Context, jobExecution *model.JobExecution) error
}

// IncrementerProvider is implemented by jobs that support launching with
// fresh parameters derived from the previous instance.
type IncrementerProvider interface {
	Incrementer() JobParametersIncrementer
}

// Step is one named unit of work within a job.
type Step interface {
	StepName() string
	// Execute runs the step and leaves stepExecution in a terminal status.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
}

// ItemReader produces a finite sequence of items and can resume from a position.
type ItemReader[O any] interface {
	// Open prepares the source. A non-empty ec is the position saved by a
	// previous execution of the same step; reading resumes right after it.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Read returns the next item or ErrNoMoreItems.
	Read(ctx context.Context) (O, error)
	// GetExecutionContext returns the current position.
	GetExecutionContext(ctx context.Context) (model.ExecutionContext, error)
	Close(ctx context.Context) error
}

// ItemProcessor maps one input item to one output item. It may return
// ErrFilterItem to drop the item or any other error to have it classified.
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter persists one chunk. Writes must be idempotent (natural-key upsert)
// or deduplicate on ChunkFromContext, because the last chunk before a crash may
// be delivered again after restart.
type ItemWriter[I any] interface {
	Write(ctx context.Context, t tx.Tx, items []I) error
}

// ItemStream is optionally implemented by writers and processors that hold
// resources for the lifetime of a step.
type ItemStream interface {
	Open(ctx context.Context, ec model.ExecutionContext) error
	Close(ctx context.Context) error
}

// JobExecutionListener observes a job. An error from BeforeJob fails the job
// before it starts; errors from AfterJob are reported after every listener ran.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution) error
	AfterJob(ctx context.Context, jobExecution *model.JobExecution) error
}

// StepExecutionListener observes a step.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution) error
	AfterStep(ctx context.Context, stepExecution *model.StepExecution) error
}

// ChunkListener observes chunk boundaries.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunk runs after a successful commit.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunkError runs after a chunk was rolled back.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// SkipListener is told about every item excluded by the skip policy.
type SkipListener interface {
	OnSkipRead(ctx context.Context, err error)
	OnSkipProcess(ctx context.Context, item interface{}, err error)
}

// RetryListener is told before a chunk is attempted again.
type RetryListener interface {
	OnRetry(ctx context.Context, attempt int, err error)
}

// JobParametersIncrementer derives the next parameter set from the last one.
type JobParametersIncrementer interface {
	GetNext(params model.JobParameters) model.JobParameters
}

// ChunkInfo identifies one committed chunk across restarts: the sequence keeps
// counting from the checkpoint, so (JobInstanceID, Sequence) is a stable
// deduplication key for writers.
type ChunkInfo struct {
	JobName       string
	JobInstanceID string
	StepName      string
	Sequence      int64
}

type contextKey int

const (
	stepExecutionKey contextKey = iota
	chunkKey
)

// WithStepExecution stores the running StepExecution in ctx.
func WithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, stepExecutionKey, se)
}

// StepExecutionFromContext returns the running StepExecution or nil.
func StepExecutionFromContext(ctx context.Context) *model.StepExecution {
	se, _ := ctx.Value(stepExecutionKey).(*model.StepExecution)
	return se
}

// WithChunk stores the chunk being written in ctx.
func WithChunk(ctx context.Context, info ChunkInfo) context.Context {
	return context.WithValue(ctx, chunkKey, info)
}

// ChunkFromContext returns the chunk being written, if any.
func ChunkFromContext(ctx context.Context) (ChunkInfo, bool) {
	info, ok := ctx.Value(chunkKey).(ChunkInfo)
	return info, ok
}
