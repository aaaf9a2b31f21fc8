package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// OTelRecorder records the same measurements as PrometheusRecorder as OTel
// instruments, exported by the meter provider's reader.
type OTelRecorder struct {
	jobDuration  metric.Float64Histogram
	jobs         metric.Int64Counter
	running      metric.Int64UpDownCounter
	stepDuration metric.Float64Histogram
	items        metric.Int64Counter
	commits      metric.Int64Counter
	rollbacks    metric.Int64Counter
	skips        metric.Int64Counter
	retries      metric.Int64Counter
	durations    metric.Float64Histogram
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)

func NewOTelRecorder(provider metric.MeterProvider) (*OTelRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OTelRecorder{}
	var err error
	if r.jobDuration, err = meter.Float64Histogram("batch.job.duration", metric.WithUnit("s"),
		metric.WithDescription("Duration of batch job executions.")); err != nil {
		return nil, err
	}
	if r.jobs, err = meter.Int64Counter("batch.job.executions",
		metric.WithDescription("Finished batch job executions by status.")); err != nil {
		return nil, err
	}
	if r.running, err = meter.Int64UpDownCounter("batch.job.running",
		metric.WithDescription("Batch job executions currently running.")); err != nil {
		return nil, err
	}
	if r.stepDuration, err = meter.Float64Histogram("batch.step.duration", metric.WithUnit("s"),
		metric.WithDescription("Duration of batch step executions.")); err != nil {
		return nil, err
	}
	if r.items, err = meter.Int64Counter("batch.step.items",
		metric.WithDescription("Items of committed chunks by outcome (read, written, filtered).")); err != nil {
		return nil, err
	}
	if r.commits, err = meter.Int64Counter("batch.chunk.commits"); err != nil {
		return nil, err
	}
	if r.rollbacks, err = meter.Int64Counter("batch.chunk.rollbacks"); err != nil {
		return nil, err
	}
	if r.skips, err = meter.Int64Counter("batch.item.skips"); err != nil {
		return nil, err
	}
	if r.retries, err = meter.Int64Counter("batch.chunk.retries"); err != nil {
		return nil, err
	}
	if r.durations, err = meter.Float64Histogram("batch.operation.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.running.Add(ctx, 1, metric.WithAttributes(attribute.String("job_name", execution.JobName)))
}

func (r *OTelRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	job := attribute.String("job_name", execution.JobName)
	status := attribute.String("status", execution.Status.String())
	r.running.Add(ctx, -1, metric.WithAttributes(job))
	r.jobs.Add(ctx, 1, metric.WithAttributes(job, status))
	if execution.EndTime != nil {
		r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), metric.WithAttributes(job, status))
	}
}

func (r *OTelRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {}

func (r *OTelRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	if execution.EndTime == nil {
		return
	}
	r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), metric.WithAttributes(
		attribute.String("job_name", jobName(ctx)),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	))
}

func (r *OTelRecorder) RecordChunkCommit(ctx context.Context, stepName string, read, written, filtered int) {
	job := attribute.String("job_name", jobName(ctx))
	step := attribute.String("step_name", stepName)
	r.commits.Add(ctx, 1, metric.WithAttributes(job, step))
	r.items.Add(ctx, int64(read), metric.WithAttributes(job, step, attribute.String("outcome", "read")))
	r.items.Add(ctx, int64(written), metric.WithAttributes(job, step, attribute.String("outcome", "written")))
	r.items.Add(ctx, int64(filtered), metric.WithAttributes(job, step, attribute.String("outcome", "filtered")))
}

func (r *OTelRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.rollbacks.Add(ctx, 1, stepAttrs(ctx, stepName, "reason", reason))
}

func (r *OTelRecorder) RecordItemSkip(ctx context.Context, stepName string, reason string) {
	r.skips.Add(ctx, 1, stepAttrs(ctx, stepName, "stage", reason))
}

func (r *OTelRecorder) RecordChunkRetry(ctx context.Context, stepName string, reason string) {
	r.retries.Add(ctx, 1, stepAttrs(ctx, stepName, "stage", reason))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.durations.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func stepAttrs(ctx context.Context, stepName, key, value string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_name", jobName(ctx)),
		attribute.String("step_name", stepName),
		attribute.String(key, value),
	)
}
