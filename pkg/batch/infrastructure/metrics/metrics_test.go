package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

// finishedRun returns a started job with one started step, the step carried
// in the returned context.
func finishedRun(t *testing.T) (context.Context, *model.JobExecution, *model.StepExecution) {
	je := test.NewTestJobExecution(t, "importUserJob")
	se := model.NewStepExecution(je, "importUserStep")
	require.NoError(t, se.MarkAsStarted())
	return port.WithStepExecution(context.Background(), se), je, se
}

func TestPrometheusRecorder(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	ctx, je, se := finishedRun(t)

	r.RecordJobStart(ctx, je)
	assert.Equal(t, 1.0, gathered(t, r)["batch_job_running"])

	r.RecordChunkCommit(ctx, "importUserStep", 10, 9, 1)
	r.RecordChunkCommit(ctx, "importUserStep", 5, 5, 0)
	r.RecordChunkRollback(ctx, "importUserStep", "RETRYABLE")
	r.RecordChunkRetry(ctx, "importUserStep", "write")
	r.RecordItemSkip(ctx, "importUserStep", "process")
	r.RecordDuration(ctx, "chunk", 20*time.Millisecond, map[string]string{"step": "importUserStep"})

	require.NoError(t, se.MarkAsCompleted())
	r.RecordStepEnd(ctx, se)
	require.NoError(t, je.MarkAsCompleted())
	r.RecordJobEnd(ctx, je)

	byName := gathered(t, r)
	assert.Equal(t, 2.0, byName["batch_step_commit_total"])
	assert.Equal(t, 15.0, byName["batch_step_read_total"])
	assert.Equal(t, 14.0, byName["batch_step_write_total"])
	assert.Equal(t, 1.0, byName["batch_step_filter_total"])
	assert.Equal(t, 1.0, byName["batch_step_rollback_total"])
	assert.Equal(t, 1.0, byName["batch_chunk_retry_total"])
	assert.Equal(t, 1.0, byName["batch_item_skip_total"])
	assert.Equal(t, 1.0, byName["batch_job_status_total"])
	assert.Equal(t, 1.0, byName["batch_step_status_total"])
	assert.Equal(t, 0.0, byName["batch_job_running"])
}

// gathered sums every counter and gauge sample per family name.
func gathered(t *testing.T, r *metrics.PrometheusRecorder) map[string]float64 {
	t.Helper()
	families, err := r.Registry().Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				byName[f.GetName()] += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				byName[f.GetName()] += g.GetValue()
			}
		}
	}
	return byName
}

func TestOTelTracer_SpanHierarchy(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	tracer := metrics.NewOTelTracer(tp)

	je := test.NewTestJobExecution(t, "importUserJob")
	se := model.NewStepExecution(je, "importUserStep")

	ctx, endJob := tracer.StartJobSpan(context.Background(), je)
	stepCtx, endStep := tracer.StartStepSpan(ctx, se)
	chunkCtx, endChunk := tracer.StartChunkSpan(stepCtx, "importUserStep", 3)
	tracer.RecordEvent(chunkCtx, "retry", map[string]interface{}{"stage": "write", "attempt": 2})
	tracer.RecordError(chunkCtx, "importUserStep", errors.New("deadlock"))
	endChunk()
	endStep()
	require.NoError(t, je.MarkAsFailed(errors.New("deadlock")))
	endJob()

	ended := spans.Ended()
	require.Len(t, ended, 3)
	chunk, step, job := ended[0], ended[1], ended[2]
	assert.Equal(t, "chunk", chunk.Name())
	assert.Equal(t, "step importUserStep", step.Name())
	assert.Equal(t, "job importUserJob", job.Name())
	assert.Equal(t, step.SpanContext().SpanID(), chunk.Parent().SpanID())
	assert.Equal(t, job.SpanContext().SpanID(), step.Parent().SpanID())
	assert.Equal(t, codes.Error, chunk.Status().Code)
	assert.Equal(t, codes.Error, job.Status().Code)

	var names []string
	for _, ev := range chunk.Events() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"retry", "exception"}, names)
}

func TestOTelRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := metrics.NewOTelRecorder(mp)
	require.NoError(t, err)

	ctx, je, _ := finishedRun(t)
	r.RecordJobStart(ctx, je)
	r.RecordChunkCommit(ctx, "importUserStep", 10, 8, 2)
	r.RecordItemSkip(ctx, "importUserStep", "read")
	require.NoError(t, je.MarkAsCompleted())
	r.RecordJobEnd(ctx, je)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(20), sums["batch.step.items"])
	assert.Equal(t, int64(1), sums["batch.chunk.commits"])
	assert.Equal(t, int64(1), sums["batch.item.skips"])
	assert.Equal(t, int64(1), sums["batch.job.executions"])
	assert.Equal(t, int64(0), sums["batch.job.running"])
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	lc := fxtest.NewLifecycle(t)

	out, err := metrics.NewFromConfig(lc, cfg)
	require.NoError(t, err)
	assert.IsType(t, &coremetrics.NoOpMetricRecorder{}, out.Recorder)
	assert.IsType(t, &coremetrics.NoOpTracer{}, out.Tracer)
	assert.Nil(t, out.Prometheus)

	cfg.Chunkflow.Infrastructure.Metrics.Type = "prometheus"
	out, err = metrics.NewFromConfig(lc, cfg)
	require.NoError(t, err)
	require.NotNil(t, out.Prometheus)
	assert.Same(t, out.Prometheus, out.Recorder)

	cfg.Chunkflow.Infrastructure.Metrics.Type = "statsd"
	_, err = metrics.NewFromConfig(lc, cfg)
	assert.Error(t, err)
}
