package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/fault"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Keys ChunkStep writes into every checkpoint. Counters are cumulative over
// all executions of the JobInstance.
const (
	KeyReaderState   = "reader"
	KeyWriterState   = "writer"
	KeyChunkSequence = "chunk.seq"
	KeyReadCount     = "read.count"
	KeyWriteCount    = "write.count"
	KeyFilterCount   = "filter.count"
	KeySkipCount     = "skip.count"
)

// StatefulWriter is implemented by writers whose state must be checkpointed
// with the reader position.
type StatefulWriter interface {
	GetExecutionContext(ctx context.Context) (model.ExecutionContext, error)
}

// ChunkStep is a chunk-oriented port.Step: it reads up to chunkSize items,
// transforms them and writes the survivors in one transaction, checkpointing
// the reader position after every committed chunk.
type ChunkStep[I, O any] struct {
	name          string
	reader        port.ItemReader[I]
	processor     port.ItemProcessor[I, O]
	writer        port.ItemWriter[O]
	jobRepository repository.JobRepository
	options
}

var _ port.Step = (*ChunkStep[any, any])(nil)

// NewChunkStep creates a ChunkStep. Without options it commits every 10 items,
// transforms sequentially, never skips or retries, checkpoints into
// jobRepository and uses a no-op transaction manager.
func NewChunkStep[I, O any](
	name string,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	jobRepository repository.JobRepository,
	opts ...Option,
) *ChunkStep[I, O] {
	o := options{
		chunkSize:      10,
		concurrency:    1,
		txManager:      tx.NewNoOpTransactionManager(),
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.policy == nil {
		o.policy = fault.NewPolicy(nil, nil)
	}
	if o.checkpointStore == nil {
		o.checkpointStore = jobRepository
	}
	return &ChunkStep[I, O]{
		name:          name,
		reader:        reader,
		processor:     processor,
		writer:        writer,
		jobRepository: jobRepository,
		options:       o,
	}
}

// StepName returns the step name.
func (s *ChunkStep[I, O]) StepName() string {
	return s.name
}

// ChunkSize returns the commit interval.
func (s *ChunkStep[I, O]) ChunkSize() int {
	return s.chunkSize
}

// progress is the last committed checkpoint of the step.
type progress struct {
	key      model.CheckpointKey
	ec       model.ExecutionContext
	seq      int64
	read     int64
	written  int64
	filtered int64
	skipped  int64
}

func (p *progress) restore(ec model.ExecutionContext) {
	p.ec = ec.Copy()
	p.seq, _ = ec.GetInt64(KeyChunkSequence)
	p.read, _ = ec.GetInt64(KeyReadCount)
	p.written, _ = ec.GetInt64(KeyWriteCount)
	p.filtered, _ = ec.GetInt64(KeyFilterCount)
	p.skipped, _ = ec.GetInt64(KeySkipCount)
}

// chunkCounts are merged into the StepExecution only after the chunk commits.
type chunkCounts struct {
	read        int
	filtered    int
	skipRead    int
	skipProcess int
}

func (c chunkCounts) skips() int {
	return c.skipRead + c.skipProcess
}

type skipEvent struct {
	read bool
	item interface{}
	err  error
}

// Execute runs the chunk loop until the reader is exhausted, a fatal error
// occurs, or a stop is observed between two chunks.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	ctx, endSpan := s.tracer.StartStepSpan(port.WithStepExecution(ctx, stepExecution), stepExecution)
	defer endSpan()
	// Chunk I/O must not be interrupted halfway; cancellation is polled between chunks.
	ioCtx := context.WithoutCancel(ctx)

	logger.Infof("ChunkStep '%s' executing.", s.name)
	if err := stepExecution.MarkAsStarted(); err != nil {
		return exception.NewBatchErrorf(s.name, err, "cannot start step")
	}
	if err := s.jobRepository.UpdateStepExecution(ioCtx, stepExecution); err != nil {
		return exception.NewInfrastructureError(s.name, "failed to update StepExecution status to STARTED", err)
	}
	s.metricRecorder.RecordStepStart(ioCtx, stepExecution)

	var stopped bool
	p, err := s.open(ioCtx, jobExecution)
	if err == nil {
		stopped, err = s.run(ctx, ioCtx, jobExecution, stepExecution, p)
		stepExecution.ExecutionContext = p.ec.Copy()
		if closeErr := s.close(ioCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return s.finish(ioCtx, stepExecution, stopped, err)
}

func (s *ChunkStep[I, O]) open(ctx context.Context, je *model.JobExecution) (*progress, error) {
	p := &progress{
		key: model.CheckpointKey{JobName: je.JobName, JobInstanceID: je.JobInstanceID, StepName: s.name},
		ec:  model.NewExecutionContext(),
	}
	if s.processor == nil || s.writer == nil || s.reader == nil {
		return nil, exception.NewBatchErrorf(s.name, nil, "reader, processor and writer are required")
	}

	cp, err := s.checkpointStore.LoadCheckpoint(ctx, p.key)
	switch {
	case errors.Is(err, repository.ErrCheckpointDataNotFound):
	case err != nil:
		return nil, exception.NewInfrastructureError(s.name, "failed to load checkpoint", err)
	case cp != nil:
		p.restore(cp.ExecutionContext)
		logger.Infof("Checkpoint loaded for step '%s' (chunk %d, %d items read). Resuming.", s.name, p.seq, p.read)
	}

	readerEC, ok := p.ec.GetContext(KeyReaderState)
	if !ok {
		readerEC = model.NewExecutionContext()
	}
	if err := s.reader.Open(ctx, readerEC); err != nil {
		return nil, exception.NewBatchErrorf(s.name, err, "failed to open ItemReader")
	}

	writerEC, ok := p.ec.GetContext(KeyWriterState)
	if !ok {
		writerEC = model.NewExecutionContext()
	}
	var opened []port.ItemStream
	for _, st := range s.streams() {
		if err := st.Open(ctx, writerEC); err != nil {
			for _, o := range opened {
				_ = o.Close(ctx)
			}
			_ = s.reader.Close(ctx)
			return nil, exception.NewBatchErrorf(s.name, err, "failed to open item stream")
		}
		opened = append(opened, st)
	}
	return p, nil
}

// streams returns the processor and writer when they hold resources.
func (s *ChunkStep[I, O]) streams() []port.ItemStream {
	var out []port.ItemStream
	if st, ok := any(s.processor).(port.ItemStream); ok {
		out = append(out, st)
	}
	if st, ok := any(s.writer).(port.ItemStream); ok {
		out = append(out, st)
	}
	return out
}

func (s *ChunkStep[I, O]) close(ctx context.Context) error {
	var errs []error
	if err := s.reader.Close(ctx); err != nil {
		logger.Warnf("ChunkStep '%s': failed to close ItemReader: %v", s.name, err)
		errs = append(errs, err)
	}
	for _, st := range s.streams() {
		if err := st.Close(ctx); err != nil {
			logger.Warnf("ChunkStep '%s': failed to close item stream: %v", s.name, err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return exception.NewBatchErrorf(s.name, errors.Join(errs...), "failed to close step resources")
	}
	return nil
}

func (s *ChunkStep[I, O]) run(ctx, ioCtx context.Context, je *model.JobExecution, se *model.StepExecution, p *progress) (bool, error) {
	for {
		if ctx.Err() != nil || je.IsStopRequested() {
			logger.Infof("ChunkStep '%s': stop observed after chunk %d.", s.name, p.seq)
			return true, nil
		}
		eof, err := s.runChunk(ioCtx, je, se, p)
		if err != nil {
			return false, err
		}
		if eof {
			return false, nil
		}
	}
}

func (s *ChunkStep[I, O]) finish(ctx context.Context, se *model.StepExecution, stopped bool, err error) error {
	var markErr error
	switch {
	case err != nil:
		s.tracer.RecordError(ctx, s.name, err)
		markErr = se.MarkAsFailed(err)
	case stopped:
		markErr = se.MarkAsStopped()
	default:
		markErr = se.MarkAsCompleted()
	}
	if markErr != nil {
		logger.Errorf("ChunkStep '%s': %v", s.name, markErr)
	}
	if updateErr := s.jobRepository.UpdateStepExecution(ctx, se); updateErr != nil {
		logger.Errorf("ChunkStep '%s': failed to update final StepExecution state: %v", s.name, updateErr)
		if err == nil {
			err = exception.NewInfrastructureError(s.name, "failed to update final StepExecution state", updateErr)
		}
	}
	s.metricRecorder.RecordStepEnd(ctx, se)
	logger.Infof("ChunkStep '%s' finished. Status: %s, %s", s.name, se.Status, se.DebugString())
	return err
}

// runChunk processes one chunk and reports whether the reader is exhausted.
func (s *ChunkStep[I, O]) runChunk(ctx context.Context, je *model.JobExecution, se *model.StepExecution, p *progress) (bool, error) {
	seq := p.seq + 1
	ctx, endSpan := s.tracer.StartChunkSpan(ctx, s.name, seq)
	defer endSpan()
	start := time.Now()

	var counts chunkCounts
	var skips []skipEvent
	items, eof, err := s.readChunk(ctx, se, &counts, &skips)
	if err != nil {
		se.RollbackCount++
		s.metricRecorder.RecordChunkRollback(ctx, s.name, fault.Fatal.String())
		return false, s.abortChunk(ctx, se, seq, err)
	}
	if len(items) == 0 && len(skips) == 0 {
		return true, nil
	}

	// Chunk listeners only see chunks that hold at least one record.
	for _, l := range s.chunkListeners {
		l.BeforeChunk(ctx, se)
	}

	for attempt := 1; ; attempt++ {
		attemptCounts := counts
		attemptSkips := append([]skipEvent(nil), skips...)

		var class fault.Classification
		stage := "transform"
		outputs, err := s.transform(ctx, se, items, &attemptCounts, &attemptSkips)
		if err != nil {
			class = s.policy.Classify(err)
		} else {
			stage = "write"
			var cp *model.CheckpointData
			cp, err = s.writeChunk(ctx, je, se, p, seq, outputs, attemptCounts)
			if err == nil {
				p.restore(cp.ExecutionContext)
				return eof, s.afterCommit(ctx, se, p, attemptCounts, len(outputs), attemptSkips, start)
			}
			class = s.policy.ClassifyWrite(err)
		}

		se.RollbackCount++
		s.metricRecorder.RecordChunkRollback(ctx, s.name, class.String())
		if class != fault.Retryable {
			return false, s.abortChunk(ctx, se, seq, err)
		}
		if attempt >= s.policy.MaxAttempts() {
			exhausted := exception.NewBatchError(s.name,
				fmt.Sprintf("chunk %d failed after %d attempts", seq, attempt),
				errors.Join(exception.ErrRetryExhausted, err), false, false)
			return false, s.abortChunk(ctx, se, seq, exhausted)
		}

		logger.Warnf("ChunkStep '%s': chunk %d %s failed (attempt %d/%d). Retrying: %v",
			s.name, seq, stage, attempt, s.policy.MaxAttempts(), err)
		s.notifyRetry(ctx, stage, attempt, err)
		if waitErr := retry.Wait(ctx, s.policy.Retry, attempt); waitErr != nil {
			return false, s.abortChunk(ctx, se, seq, waitErr)
		}
	}
}

// readChunk reads up to chunkSize items. Read errors are retried in place or
// skipped according to the fault policy.
func (s *ChunkStep[I, O]) readChunk(ctx context.Context, se *model.StepExecution, counts *chunkCounts, skips *[]skipEvent) ([]I, bool, error) {
	items := make([]I, 0, s.chunkSize)
	for len(items) < s.chunkSize {
		item, err := s.readItem(ctx)
		switch {
		case err == nil:
			items = append(items, item)
			counts.read++
			continue
		case errors.Is(err, port.ErrNoMoreItems):
			return items, true, nil
		case s.policy.Classify(err) != fault.Skippable:
			return nil, false, err
		case !s.policy.Skip.CanSkip(se.SkipCount() + counts.skips()):
			return nil, false, s.skipLimitExceeded(err)
		}
		logger.Warnf("ChunkStep '%s': skipping unreadable item: %v", s.name, err)
		counts.skipRead++
		*skips = append(*skips, skipEvent{read: true, err: err})
	}
	return items, false, nil
}

func (s *ChunkStep[I, O]) readItem(ctx context.Context) (I, error) {
	for attempt := 1; ; attempt++ {
		item, err := s.reader.Read(ctx)
		if err == nil || errors.Is(err, port.ErrNoMoreItems) {
			return item, err
		}
		if s.policy.Classify(err) != fault.Retryable {
			return item, err
		}
		if attempt >= s.policy.MaxAttempts() {
			return item, errors.Join(exception.ErrRetryExhausted, err)
		}
		logger.Warnf("ChunkStep '%s': item read failed (attempt %d/%d). Retrying: %v",
			s.name, attempt, s.policy.MaxAttempts(), err)
		s.notifyRetry(ctx, "read", attempt, err)
		if waitErr := retry.Wait(ctx, s.policy.Retry, attempt); waitErr != nil {
			return item, waitErr
		}
	}
}

type transformed[O any] struct {
	out O
	err error
}

// transform runs the processor over items, concurrently when configured, then
// classifies the results in input order so counters do not depend on scheduling.
func (s *ChunkStep[I, O]) transform(ctx context.Context, se *model.StepExecution, items []I, counts *chunkCounts, skips *[]skipEvent) ([]O, error) {
	results := make([]transformed[O], len(items))
	if s.concurrency <= 1 || len(items) < 2 {
		for i, item := range items {
			results[i].out, results[i].err = s.processor.Process(ctx, item)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for i, item := range items {
			g.Go(func() error {
				results[i].out, results[i].err = s.processor.Process(ctx, item)
				return nil
			})
		}
		_ = g.Wait()
	}

	outputs := make([]O, 0, len(items))
	for i, r := range results {
		switch {
		case r.err == nil:
			outputs = append(outputs, r.out)
		case errors.Is(r.err, port.ErrFilterItem):
			counts.filtered++
		case s.policy.Classify(r.err) == fault.Skippable:
			if !s.policy.Skip.CanSkip(se.SkipCount() + counts.skips()) {
				return nil, s.skipLimitExceeded(r.err)
			}
			counts.skipProcess++
			*skips = append(*skips, skipEvent{item: items[i], err: r.err})
		default:
			return nil, r.err
		}
	}
	return outputs, nil
}

// writeChunk writes outputs and the checkpoint. The checkpoint is saved inside
// the transaction when the store joins it and right after the commit otherwise.
func (s *ChunkStep[I, O]) writeChunk(ctx context.Context, je *model.JobExecution, se *model.StepExecution, p *progress, seq int64, outputs []O, counts chunkCounts) (*model.CheckpointData, error) {
	cp, err := s.checkpoint(ctx, se, p, seq, counts, len(outputs))
	if err != nil {
		return nil, err
	}

	t, err := s.txManager.Begin(ctx, s.txOptions)
	if err != nil {
		return nil, s.sinkError(seq, "failed to begin chunk transaction", err)
	}
	info := port.ChunkInfo{JobName: je.JobName, JobInstanceID: je.JobInstanceID, StepName: s.name, Sequence: seq}
	txCtx := tx.WithTx(port.WithChunk(ctx, info), t)

	if len(outputs) > 0 {
		if err := s.writer.Write(txCtx, t, outputs); err != nil {
			s.rollback(t)
			return nil, s.sinkError(seq, "sink write failed", err)
		}
	}

	joins := repository.JoinsTransaction(s.checkpointStore)
	if joins {
		if err := s.checkpointStore.SaveCheckpoint(txCtx, cp); err != nil {
			s.rollback(t)
			return nil, exception.NewInfrastructureError(s.name, fmt.Sprintf("failed to save checkpoint of chunk %d", seq), err)
		}
	}
	if err := s.txManager.Commit(t); err != nil {
		s.rollback(t)
		return nil, s.sinkError(seq, "commit failed", err)
	}
	if !joins {
		if err := s.checkpointStore.SaveCheckpoint(ctx, cp); err != nil {
			return nil, exception.NewInfrastructureError(s.name, fmt.Sprintf("failed to save checkpoint of committed chunk %d", seq), err)
		}
	}
	return cp, nil
}

// checkpoint builds the ExecutionContext describing the state after chunk seq.
// Failing to capture reader or writer state is FATAL, never a sink error.
func (s *ChunkStep[I, O]) checkpoint(ctx context.Context, se *model.StepExecution, p *progress, seq int64, counts chunkCounts, written int) (*model.CheckpointData, error) {
	ec := p.ec.Copy()
	readerEC, err := s.reader.GetExecutionContext(ctx)
	if err != nil {
		return nil, exception.NewInfrastructureError(s.name, "failed to get ExecutionContext from ItemReader", err)
	}
	ec.Put(KeyReaderState, readerEC.Copy())
	if w, ok := any(s.writer).(StatefulWriter); ok {
		writerEC, err := w.GetExecutionContext(ctx)
		if err != nil {
			return nil, exception.NewInfrastructureError(s.name, "failed to get ExecutionContext from ItemWriter", err)
		}
		ec.Put(KeyWriterState, writerEC.Copy())
	}
	ec.Put(KeyChunkSequence, seq)
	ec.Put(KeyReadCount, p.read+int64(counts.read))
	ec.Put(KeyWriteCount, p.written+int64(written))
	ec.Put(KeyFilterCount, p.filtered+int64(counts.filtered))
	ec.Put(KeySkipCount, p.skipped+int64(counts.skips()))

	return &model.CheckpointData{
		JobName:          p.key.JobName,
		JobInstanceID:    p.key.JobInstanceID,
		StepName:         p.key.StepName,
		StepExecutionID:  se.ID,
		ExecutionContext: ec,
		LastUpdated:      time.Now(),
	}, nil
}

func (s *ChunkStep[I, O]) afterCommit(ctx context.Context, se *model.StepExecution, p *progress, counts chunkCounts, written int, skips []skipEvent, start time.Time) error {
	se.ReadCount += counts.read
	se.WriteCount += written
	se.FilterCount += counts.filtered
	se.SkipReadCount += counts.skipRead
	se.SkipProcessCount += counts.skipProcess
	se.CommitCount++
	se.ExecutionContext = p.ec.Copy()
	for _, ev := range skips {
		se.AddFailureException(ev.err)
	}

	s.notifySkips(ctx, skips)
	s.metricRecorder.RecordChunkCommit(ctx, s.name, counts.read, written, counts.filtered)
	s.metricRecorder.RecordDuration(ctx, "chunk", time.Since(start), map[string]string{"step": s.name})
	for _, l := range s.chunkListeners {
		l.AfterChunk(ctx, se)
	}
	logger.Debugf("ChunkStep '%s': chunk %d committed (read %d, written %d, filtered %d, skipped %d).",
		s.name, p.seq, counts.read, written, counts.filtered, counts.skips())

	if err := s.jobRepository.UpdateStepExecution(ctx, se); err != nil {
		return exception.NewInfrastructureError(s.name, fmt.Sprintf("failed to update StepExecution after chunk %d", p.seq), err)
	}
	return nil
}

func (s *ChunkStep[I, O]) abortChunk(ctx context.Context, se *model.StepExecution, seq int64, err error) error {
	wrapped := exception.NewBatchErrorf(s.name, err, "chunk %d failed", seq)
	s.tracer.RecordError(ctx, s.name, err)
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, se, wrapped)
	}
	logger.Errorf("ChunkStep '%s': chunk %d rolled back: %v", s.name, seq, err)
	return wrapped
}

func (s *ChunkStep[I, O]) rollback(t tx.Tx) {
	if err := s.txManager.Rollback(t); err != nil {
		logger.Warnf("ChunkStep '%s': rollback failed: %v", s.name, err)
	}
}

func (s *ChunkStep[I, O]) sinkError(seq int64, msg string, err error) error {
	return exception.NewBatchError(s.name, fmt.Sprintf("chunk %d: %s", seq, msg), errors.Join(exception.ErrSinkWrite, err), false, true)
}

func (s *ChunkStep[I, O]) skipLimitExceeded(err error) error {
	return exception.NewBatchError(s.name,
		fmt.Sprintf("skip limit %d exceeded", s.policy.Skip.GetSkipLimit()),
		errors.Join(exception.ErrSkipLimitExceeded, err), false, false)
}

func (s *ChunkStep[I, O]) notifyRetry(ctx context.Context, stage string, attempt int, err error) {
	s.tracer.RecordEvent(ctx, "retry", map[string]interface{}{"stage": stage, "attempt": attempt})
	s.metricRecorder.RecordChunkRetry(ctx, s.name, stage)
	for _, l := range s.retryListeners {
		l.OnRetry(ctx, attempt, err)
	}
}

func (s *ChunkStep[I, O]) notifySkips(ctx context.Context, skips []skipEvent) {
	for _, ev := range skips {
		s.tracer.RecordError(ctx, s.name, ev.err)
		if ev.read {
			s.metricRecorder.RecordItemSkip(ctx, s.name, "read")
			for _, l := range s.skipListeners {
				l.OnSkipRead(ctx, ev.err)
			}
			continue
		}
		s.metricRecorder.RecordItemSkip(ctx, s.name, "process")
		for _, l := range s.skipListeners {
			l.OnSkipProcess(ctx, ev.item, ev.err)
		}
	}
}
