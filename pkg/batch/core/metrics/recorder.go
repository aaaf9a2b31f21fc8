// Package metrics declares the metric and tracing ports used by the engine.
// Implementations live in infrastructure/metrics.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MetricRecorder receives execution measurements.
type MetricRecorder interface {
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordChunkCommit is called once per committed chunk with its counters.
	RecordChunkCommit(ctx context.Context, stepName string, read, written, filtered int)
	RecordChunkRollback(ctx context.Context, stepName string, reason string)
	RecordItemSkip(ctx context.Context, stepName string, reason string)
	RecordChunkRetry(ctx context.Context, stepName string, reason string)

	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
