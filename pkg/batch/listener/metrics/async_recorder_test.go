package metrics_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	listenermetrics "github.com/tigerroll/chunkflow/pkg/batch/listener/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

// countingRecorder records calls, optionally blocking until release is closed.
type countingRecorder struct {
	coremetrics.NoOpMetricRecorder
	mu       sync.Mutex
	commits  []int
	statuses []model.BatchStatus
	release  chan struct{}
}

func (r *countingRecorder) RecordChunkCommit(ctx context.Context, stepName string, read, written, filtered int) {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, written)
}

func (r *countingRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, execution.Status)
}

func TestAsyncRecorder_DrainsOnClose(t *testing.T) {
	delegate := &countingRecorder{}
	r := listenermetrics.NewAsyncRecorder(10, delegate)

	for i := 1; i <= 5; i++ {
		r.RecordChunkCommit(context.Background(), "importUserStep", i, i, 0)
	}
	je := test.NewTestJobExecution(t, "importUserJob")
	require.NoError(t, je.MarkAsCompleted())
	r.RecordJobEnd(context.Background(), je)
	r.Close()
	r.Close()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, delegate.commits)
	assert.Equal(t, []model.BatchStatus{model.BatchStatusCompleted}, delegate.statuses)
	assert.Zero(t, r.Dropped())
}

func TestAsyncRecorder_SnapshotsExecutions(t *testing.T) {
	delegate := &countingRecorder{}
	r := listenermetrics.NewAsyncRecorder(10, delegate)

	je := test.NewTestJobExecution(t, "importUserJob")
	require.NoError(t, je.MarkAsFailed(assert.AnError))
	r.RecordJobEnd(context.Background(), je)
	require.NoError(t, je.MarkAsAbandoned())
	r.Close()

	assert.Equal(t, []model.BatchStatus{model.BatchStatusFailed}, delegate.statuses)
}

func TestAsyncRecorder_DropsWhenFull(t *testing.T) {
	delegate := &countingRecorder{release: make(chan struct{})}
	r := listenermetrics.NewAsyncRecorder(1, delegate)

	// the worker blocks on the first event, the second fills the queue
	r.RecordChunkCommit(context.Background(), "s", 1, 1, 0)
	require.Eventually(t, func() bool {
		r.RecordChunkCommit(context.Background(), "s", 2, 2, 0)
		return r.Dropped() > 0
	}, time.Second, time.Millisecond)

	close(delegate.release)
	r.Close()
	assert.NotEmpty(t, delegate.commits)
}

func TestDecorateRecorder(t *testing.T) {
	cfg := config.NewConfig()
	lc := fxtest.NewLifecycle(t)
	base := coremetrics.NewNoOpMetricRecorder()

	assert.Same(t, base, listenermetrics.DecorateRecorder(lc, cfg, base))

	cfg.Chunkflow.Infrastructure.Metrics.AsyncBufferSize = 8
	decorated := listenermetrics.DecorateRecorder(lc, cfg, base)
	assert.IsType(t, &listenermetrics.AsyncRecorder{}, decorated)
	lc.RequireStart().RequireStop()
}
