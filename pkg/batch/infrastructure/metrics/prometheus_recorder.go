// Package metrics implements the recorder and tracer ports with Prometheus
// and OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// PrometheusRecorder keeps job, step and chunk metrics in its own registry,
// served by the admin server under /metrics.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec
	jobsRunning        *prometheus.GaugeVec

	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepWriteCount      *prometheus.CounterVec
	stepFilterCount     *prometheus.CounterVec
	stepCommitCount     *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec

	itemSkipCounter   *prometheus.CounterVec
	chunkRetryCounter *prometheus.CounterVec
	durationSeconds   *prometheus.HistogramVec
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)

func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Finished batch job executions by status.",
		}, []string{"job_name", "status"}),
		jobsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "batch_job_running",
			Help: "Batch job executions currently running.",
		}, []string{"job_name"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Duration of batch step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Finished batch step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		stepReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_read_total",
			Help: "Items read in committed chunks.",
		}, []string{"job_name", "step_name"}),
		stepWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_write_total",
			Help: "Items written in committed chunks.",
		}, []string{"job_name", "step_name"}),
		stepFilterCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_filter_total",
			Help: "Items filtered in committed chunks.",
		}, []string{"job_name", "step_name"}),
		stepCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_commit_total",
			Help: "Committed chunks.",
		}, []string{"job_name", "step_name"}),
		stepRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_rollback_total",
			Help: "Rolled back chunks by failure class.",
		}, []string{"job_name", "step_name", "reason"}),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_skip_total",
			Help: "Skipped items by stage (read, process).",
		}, []string{"job_name", "step_name", "stage"}),
		chunkRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_retry_total",
			Help: "Chunk retries by stage.",
		}, []string{"job_name", "step_name", "stage"}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_operation_duration_seconds",
			Help:    "Duration of engine operations such as chunk processing.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "step_name"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds, r.jobStatusCounter, r.jobsRunning,
		r.stepDurationSeconds, r.stepStatusCounter,
		r.stepReadCount, r.stepWriteCount, r.stepFilterCount,
		r.stepCommitCount, r.stepRollbackCount,
		r.itemSkipCounter, r.chunkRetryCounter, r.durationSeconds,
	)
	return r
}

// Registry is the registry to expose.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// jobName reads the job of the step running in ctx.
func jobName(ctx context.Context) string {
	if se := port.StepExecutionFromContext(ctx); se != nil && se.JobExecution != nil {
		return se.JobExecution.JobName
	}
	return ""
}

func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobsRunning.WithLabelValues(execution.JobName).Inc()
}

func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobsRunning.WithLabelValues(execution.JobName).Dec()
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.jobDurationSeconds.WithLabelValues(execution.JobName, execution.Status.String(), execution.ExitStatus.String()).Observe(duration)
	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {}

func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	job := ""
	if execution.JobExecution != nil {
		job = execution.JobExecution.JobName
	}
	r.stepStatusCounter.WithLabelValues(job, execution.StepName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	r.stepDurationSeconds.WithLabelValues(job, execution.StepName, execution.Status.String(), execution.ExitStatus.String()).
		Observe(execution.EndTime.Sub(execution.StartTime).Seconds())
}

// RecordChunkCommit adds the counters of one committed chunk, so the totals
// never count rolled back work.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, read, written, filtered int) {
	job := jobName(ctx)
	r.stepCommitCount.WithLabelValues(job, stepName).Inc()
	r.stepReadCount.WithLabelValues(job, stepName).Add(float64(read))
	r.stepWriteCount.WithLabelValues(job, stepName).Add(float64(written))
	r.stepFilterCount.WithLabelValues(job, stepName).Add(float64(filtered))
}

func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.stepRollbackCount.WithLabelValues(jobName(ctx), stepName, reason).Inc()
}

func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, stepName string, reason string) {
	r.itemSkipCounter.WithLabelValues(jobName(ctx), stepName, reason).Inc()
}

func (r *PrometheusRecorder) RecordChunkRetry(ctx context.Context, stepName string, reason string) {
	r.chunkRetryCounter.WithLabelValues(jobName(ctx), stepName, reason).Inc()
}

func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.durationSeconds.WithLabelValues(name, tags["step"]).Observe(duration.Seconds())
}
