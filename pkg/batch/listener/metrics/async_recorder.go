// Package metrics decouples metric recording from the chunk loop: measurements
// are queued and handed to the configured recorder by a single worker.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultBufferSize is used when a non-positive size is requested.
const DefaultBufferSize = 100

type eventType int

const (
	eventJobStart eventType = iota
	eventJobEnd
	eventStepStart
	eventStepEnd
	eventChunkCommit
	eventChunkRollback
	eventItemSkip
	eventChunkRetry
	eventDuration
)

// event carries a snapshot of what was measured. Executions are cloned so
// the worker never reads structures the engine keeps mutating.
type event struct {
	typ           eventType
	ctx           context.Context
	jobExecution  *model.JobExecution
	stepExecution *model.StepExecution
	name          string
	read          int
	written       int
	filtered      int
	reason        string
	duration      time.Duration
	tags          map[string]string
}

// AsyncRecorder implements metrics.MetricRecorder by queueing events for a
// worker goroutine. A full queue drops the event with a warning.
type AsyncRecorder struct {
	queue    chan event
	stopCh   chan struct{}
	wg       sync.WaitGroup
	delegate metrics.MetricRecorder
	dropped  atomic.Int64
	closed   atomic.Bool
}

var _ metrics.MetricRecorder = (*AsyncRecorder)(nil)

func NewAsyncRecorder(bufferSize int, delegate metrics.MetricRecorder) *AsyncRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &AsyncRecorder{
		queue:    make(chan event, bufferSize),
		stopCh:   make(chan struct{}),
		delegate: delegate,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncRecorder: worker started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.dispatch(ev)
		case <-r.stopCh:
			// drain what was queued before Close
			for {
				select {
				case ev := <-r.queue:
					r.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *AsyncRecorder) dispatch(ev event) {
	switch ev.typ {
	case eventJobStart:
		r.delegate.RecordJobStart(ev.ctx, ev.jobExecution)
	case eventJobEnd:
		r.delegate.RecordJobEnd(ev.ctx, ev.jobExecution)
	case eventStepStart:
		r.delegate.RecordStepStart(ev.ctx, ev.stepExecution)
	case eventStepEnd:
		r.delegate.RecordStepEnd(ev.ctx, ev.stepExecution)
	case eventChunkCommit:
		r.delegate.RecordChunkCommit(ev.ctx, ev.name, ev.read, ev.written, ev.filtered)
	case eventChunkRollback:
		r.delegate.RecordChunkRollback(ev.ctx, ev.name, ev.reason)
	case eventItemSkip:
		r.delegate.RecordItemSkip(ev.ctx, ev.name, ev.reason)
	case eventChunkRetry:
		r.delegate.RecordChunkRetry(ev.ctx, ev.name, ev.reason)
	case eventDuration:
		r.delegate.RecordDuration(ev.ctx, ev.name, ev.duration, ev.tags)
	}
}

// Close stops accepting events, records everything still queued and waits
// for the worker to exit. It is safe to call more than once.
func (r *AsyncRecorder) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	if n := r.dropped.Load(); n > 0 {
		logger.Warnf("AsyncRecorder: %d metric events were dropped because the queue was full.", n)
	}
}

// Dropped reports how many events were discarded.
func (r *AsyncRecorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *AsyncRecorder) send(ctx context.Context, ev event) {
	if r.closed.Load() {
		return
	}
	ev.ctx = context.WithoutCancel(ctx)
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		logger.Warnf("AsyncRecorder: queue is full, metric event dropped.")
	}
}

func (r *AsyncRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.send(ctx, event{typ: eventJobStart, jobExecution: execution.Clone()})
}

func (r *AsyncRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.send(ctx, event{typ: eventJobEnd, jobExecution: execution.Clone()})
}

func (r *AsyncRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.send(ctx, event{typ: eventStepStart, stepExecution: execution.Clone()})
}

func (r *AsyncRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.send(ctx, event{typ: eventStepEnd, stepExecution: execution.Clone()})
}

func (r *AsyncRecorder) RecordChunkCommit(ctx context.Context, stepName string, read, written, filtered int) {
	r.send(ctx, event{typ: eventChunkCommit, name: stepName, read: read, written: written, filtered: filtered})
}

func (r *AsyncRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.send(ctx, event{typ: eventChunkRollback, name: stepName, reason: reason})
}

func (r *AsyncRecorder) RecordItemSkip(ctx context.Context, stepName string, reason string) {
	r.send(ctx, event{typ: eventItemSkip, name: stepName, reason: reason})
}

func (r *AsyncRecorder) RecordChunkRetry(ctx context.Context, stepName string, reason string) {
	r.send(ctx, event{typ: eventChunkRetry, name: stepName, reason: reason})
}

func (r *AsyncRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	r.send(ctx, event{typ: eventDuration, name: name, duration: duration, tags: copied})
}
