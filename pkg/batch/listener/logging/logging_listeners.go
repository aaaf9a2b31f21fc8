// Package logging provides listeners that report job, step, chunk, skip and
// retry events through the package logger.
package logging

import (
	"context"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// --- Job Execution Listener ---

// JobListener logs the start of a job and a completion summary. The summary
// is logged at WARN unless the job COMPLETED.
type JobListener struct{}

func NewJobListener() *JobListener {
	return &JobListener{}
}

func (l *JobListener) BeforeJob(ctx context.Context, je *model.JobExecution) error {
	logger.Infof("Job '%s' starting. Execution ID: %s, Instance ID: %s, Restart: %d, Params: %s",
		je.JobName, je.ID, je.JobInstanceID, je.RestartCount, je.Parameters)
	return nil
}

func (l *JobListener) AfterJob(ctx context.Context, je *model.JobExecution) error {
	var end time.Time
	if je.EndTime != nil {
		end = *je.EndTime
	}
	log := logger.Infof
	if je.Status != model.BatchStatusCompleted {
		log = logger.Warnf
	}
	log("Job '%s' finished. Execution ID: %s, Status: %s, ExitStatus: %s, ExitCode: %d, Start: %s, End: %s, Duration: %s, Failures: %d",
		je.JobName, je.ID, je.Status, je.ExitStatus, je.ExitCode,
		je.StartTime.Format(time.RFC3339), end.Format(time.RFC3339), end.Sub(je.StartTime), len(je.Failures))
	if je.ExitDescription != "" {
		log("Job '%s' exit description: %s", je.JobName, je.ExitDescription)
	}
	return nil
}

var _ port.JobExecutionListener = (*JobListener)(nil)

// --- Step Execution Listener ---

type StepListener struct{}

func NewStepListener() *StepListener {
	return &StepListener{}
}

func (l *StepListener) BeforeStep(ctx context.Context, se *model.StepExecution) error {
	logger.Infof("Step '%s' starting. Step Execution ID: %s", se.StepName, se.ID)
	return nil
}

func (l *StepListener) AfterStep(ctx context.Context, se *model.StepExecution) error {
	logger.Infof("Step '%s' finished. Status: %s, Read: %d, Write: %d, Filter: %d, Skip: %d, Commit: %d, Rollback: %d",
		se.StepName, se.Status, se.ReadCount, se.WriteCount, se.FilterCount, se.SkipCount(), se.CommitCount, se.RollbackCount)
	return nil
}

var _ port.StepExecutionListener = (*StepListener)(nil)

// --- Chunk Listener ---

type ChunkListener struct{}

func NewChunkListener() *ChunkListener {
	return &ChunkListener{}
}

func (l *ChunkListener) BeforeChunk(ctx context.Context, se *model.StepExecution) {
	logger.Debugf("Chunk starting in step '%s'.", se.StepName)
}

func (l *ChunkListener) AfterChunk(ctx context.Context, se *model.StepExecution) {
	logger.Debugf("Chunk committed in step '%s'. Read: %d, Write: %d, Commit: %d",
		se.StepName, se.ReadCount, se.WriteCount, se.CommitCount)
}

func (l *ChunkListener) AfterChunkError(ctx context.Context, se *model.StepExecution, err error) {
	logger.Warnf("Chunk rolled back in step '%s': %v", se.StepName, err)
}

var _ port.ChunkListener = (*ChunkListener)(nil)

// --- Skip Listener ---

type SkipListener struct{}

func NewSkipListener() *SkipListener {
	return &SkipListener{}
}

func (l *SkipListener) OnSkipRead(ctx context.Context, err error) {
	logger.Warnf("Skipped unreadable item: %v", err)
}

func (l *SkipListener) OnSkipProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("Skipped item %+v: %v", item, err)
}

var _ port.SkipListener = (*SkipListener)(nil)

// --- Retry Listener ---

type RetryListener struct{}

func NewRetryListener() *RetryListener {
	return &RetryListener{}
}

func (l *RetryListener) OnRetry(ctx context.Context, attempt int, err error) {
	logger.Warnf("Retrying chunk (attempt %d): %v", attempt, err)
}

var _ port.RetryListener = (*RetryListener)(nil)
