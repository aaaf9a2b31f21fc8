// Package job provides SimpleJob, a job that runs its steps strictly in
// declaration order.
package job

import (
	"context"
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListenerErrorPolicy decides what a listener error does to the phase it guards.
type ListenerErrorPolicy int

const (
	// ListenerErrorFail fails the job (or step) on a listener error.
	ListenerErrorFail ListenerErrorPolicy = iota
	// ListenerErrorWarn logs listener errors and carries on.
	ListenerErrorWarn
)

// ParseListenerErrorPolicy maps "warn" to ListenerErrorWarn and anything else to ListenerErrorFail.
func ParseListenerErrorPolicy(s string) ListenerErrorPolicy {
	if strings.EqualFold(s, "warn") {
		return ListenerErrorWarn
	}
	return ListenerErrorFail
}

// SimpleJob is an implementation of port.Job over an ordered list of steps.
type SimpleJob struct {
	name           string
	steps          []port.Step
	jobRepository  repository.JobRepository
	jobListeners   []port.JobExecutionListener
	stepListeners  []port.StepExecutionListener
	incrementer    port.JobParametersIncrementer
	listenerPolicy ListenerErrorPolicy
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

var (
	_ port.Job                 = (*SimpleJob)(nil)
	_ port.IncrementerProvider = (*SimpleJob)(nil)
)

// Option configures a SimpleJob.
type Option func(*SimpleJob)

func WithJobListener(l port.JobExecutionListener) Option {
	return func(j *SimpleJob) { j.jobListeners = append(j.jobListeners, l) }
}

func WithStepListener(l port.StepExecutionListener) Option {
	return func(j *SimpleJob) { j.stepListeners = append(j.stepListeners, l) }
}

// WithIncrementer enables launching with derived parameters (see LaunchOptions.Next).
func WithIncrementer(inc port.JobParametersIncrementer) Option {
	return func(j *SimpleJob) { j.incrementer = inc }
}

func WithListenerErrorPolicy(p ListenerErrorPolicy) Option {
	return func(j *SimpleJob) { j.listenerPolicy = p }
}

func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(j *SimpleJob) { j.metricRecorder = r }
}

func WithTracer(t metrics.Tracer) Option {
	return func(j *SimpleJob) { j.tracer = t }
}

// NewSimpleJob creates a job running steps in order.
func NewSimpleJob(name string, jobRepository repository.JobRepository, steps []port.Step, opts ...Option) *SimpleJob {
	j := &SimpleJob{
		name:           name,
		steps:          steps,
		jobRepository:  jobRepository,
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// JobName returns the job name.
func (j *SimpleJob) JobName() string {
	return j.name
}

// Incrementer returns the configured incrementer or nil.
func (j *SimpleJob) Incrementer() port.JobParametersIncrementer {
	return j.incrementer
}

// StepNames lists the steps in execution order.
func (j *SimpleJob) StepNames() []string {
	names := make([]string, len(j.steps))
	for i, s := range j.steps {
		names[i] = s.StepName()
	}
	return names
}

// Run drives jobExecution from STARTING to a terminal status and persists it.
// The returned error is the cause of a FAILED status, joined with any
// after-job listener errors.
func (j *SimpleJob) Run(ctx context.Context, jobExecution *model.JobExecution) error {
	logger.Infof("Starting Job '%s' (Execution ID: %s, Parameters: %s).", j.name, jobExecution.ID, jobExecution.Parameters)

	ctx, finishSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer finishSpan()
	j.metricRecorder.RecordJobStart(ctx, jobExecution)

	var runErr error
	var stopped bool
	if err := j.beforeJob(ctx, jobExecution); err != nil {
		runErr = exception.NewBatchErrorf(j.name, err, "before-job listener failed")
	} else if err := jobExecution.MarkAsStarted(); err != nil {
		runErr = exception.NewBatchErrorf(j.name, err, "cannot start job execution")
	} else if err := j.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); err != nil {
		runErr = exception.NewInfrastructureError(j.name, "failed to update JobExecution status to STARTED", err)
	} else {
		stopped, runErr = j.runSteps(ctx, jobExecution)
	}

	var markErr error
	switch {
	case runErr != nil:
		j.tracer.RecordError(ctx, j.name, runErr)
		markErr = jobExecution.MarkAsFailed(runErr)
	case stopped:
		markErr = jobExecution.MarkAsStopped()
	default:
		markErr = jobExecution.MarkAsCompleted()
	}
	if markErr != nil {
		logger.Errorf("Job '%s': %v", j.name, markErr)
	}

	result := multierror.Append(nil, runErr)
	if err := j.afterJob(ctx, jobExecution); err != nil {
		jobExecution.AddFailureException(err)
		result = multierror.Append(result, err)
	}

	if err := j.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); err != nil {
		logger.Errorf("Job '%s': failed to update final JobExecution (ID: %s) state: %v", j.name, jobExecution.ID, err)
		result = multierror.Append(result, exception.NewInfrastructureError(j.name, "failed to update final JobExecution state", err))
	}
	j.metricRecorder.RecordJobEnd(ctx, jobExecution)

	read, written, skipped := jobExecution.Totals()
	logger.Infof("Job '%s' (Execution ID: %s) finished. Status: %s, Exit Status: %s (read %d, written %d, skipped %d)",
		j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus, read, written, skipped)
	for _, se := range jobExecution.StepExecutions {
		logger.Debugf("  %s", se.DebugString())
	}
	return result.ErrorOrNil()
}

// runSteps executes the steps in order. It reports whether a stop ended the job.
func (j *SimpleJob) runSteps(ctx context.Context, je *model.JobExecution) (bool, error) {
	storeCtx := context.WithoutCancel(ctx)
	for _, step := range j.steps {
		if ctx.Err() != nil || je.IsStopRequested() {
			logger.Infof("Job '%s': stop observed before step '%s'.", j.name, step.StepName())
			return true, nil
		}

		done, err := j.alreadyCompleted(storeCtx, je, step.StepName())
		if err != nil {
			return false, err
		}
		if done {
			if err := j.recordSkippedStep(storeCtx, je, step.StepName()); err != nil {
				return false, err
			}
			continue
		}

		se := model.NewStepExecution(je, step.StepName())
		if err := j.jobRepository.SaveStepExecution(storeCtx, se); err != nil {
			return false, exception.NewInfrastructureError(j.name, "failed to save StepExecution", err)
		}
		stepErr := j.executeStep(ctx, je, step, se)

		switch {
		case stepErr != nil:
			return false, stepErr
		case se.Status == model.BatchStatusStopped:
			return true, nil
		case se.Status != model.BatchStatusCompleted:
			return false, exception.NewBatchErrorf(j.name, nil, "step '%s' ended in %s", se.StepName, se.Status)
		}
	}
	return false, nil
}

// executeStep runs one step between its listeners.
func (j *SimpleJob) executeStep(ctx context.Context, je *model.JobExecution, step port.Step, se *model.StepExecution) error {
	if err := j.beforeStep(ctx, se); err != nil {
		err = exception.NewBatchErrorf(se.StepName, err, "before-step listener failed")
		if markErr := se.MarkAsFailed(err); markErr != nil {
			logger.Errorf("Job '%s': %v", j.name, markErr)
		}
		if updateErr := j.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), se); updateErr != nil {
			logger.Errorf("Job '%s': failed to update StepExecution '%s': %v", j.name, se.StepName, updateErr)
		}
		if afterErr := j.afterStep(ctx, se); afterErr != nil {
			return multierror.Append(err, afterErr)
		}
		return err
	}

	stepErr := step.Execute(ctx, je, se)
	if afterErr := j.afterStep(ctx, se); afterErr != nil {
		afterErr = exception.NewBatchErrorf(se.StepName, afterErr, "after-step listener failed")
		// A completed step whose after-step phase failed is recorded FAILED.
		if se.Status == model.BatchStatusCompleted {
			if markErr := se.MarkAsFailed(afterErr); markErr != nil {
				logger.Errorf("Job '%s': %v", j.name, markErr)
			}
		} else {
			se.AddFailureException(afterErr)
		}
		if updateErr := j.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), se); updateErr != nil {
			logger.Errorf("Job '%s': failed to update StepExecution '%s': %v", j.name, se.StepName, updateErr)
		}
		if stepErr == nil {
			return afterErr
		}
		return multierror.Append(stepErr, afterErr)
	}
	return stepErr
}

// alreadyCompleted reports whether stepName completed in an earlier execution
// of the same JobInstance.
func (j *SimpleJob) alreadyCompleted(ctx context.Context, je *model.JobExecution, stepName string) (bool, error) {
	latest, err := j.jobRepository.FindLatestStepExecution(ctx, je.JobInstanceID, stepName)
	if errors.Is(err, repository.ErrStepExecutionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, exception.NewInfrastructureError(j.name, "failed to look up previous StepExecution", err)
	}
	return latest.JobExecutionID != je.ID && latest.Status == model.BatchStatusCompleted, nil
}

func (j *SimpleJob) recordSkippedStep(ctx context.Context, je *model.JobExecution, stepName string) error {
	logger.Infof("Job '%s': step '%s' already completed for this instance. Skipping.", j.name, stepName)
	se := model.NewStepExecution(je, stepName)
	if err := j.jobRepository.SaveStepExecution(ctx, se); err != nil {
		return exception.NewInfrastructureError(j.name, "failed to save StepExecution", err)
	}
	if err := se.MarkAsSkipped(); err != nil {
		return exception.NewBatchErrorf(j.name, err, "cannot record skipped step '%s'", stepName)
	}
	if err := j.jobRepository.UpdateStepExecution(ctx, se); err != nil {
		return exception.NewInfrastructureError(j.name, "failed to update StepExecution", err)
	}
	return nil
}

// beforeJob stops at the first listener error under ListenerErrorFail.
func (j *SimpleJob) beforeJob(ctx context.Context, je *model.JobExecution) error {
	for _, l := range j.jobListeners {
		if err := j.listenerError("BeforeJob", l.BeforeJob(ctx, je)); err != nil {
			return err
		}
	}
	return nil
}

// afterJob runs every listener and aggregates their errors.
func (j *SimpleJob) afterJob(ctx context.Context, je *model.JobExecution) error {
	var result *multierror.Error
	for _, l := range j.jobListeners {
		if err := j.listenerError("AfterJob", l.AfterJob(ctx, je)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (j *SimpleJob) beforeStep(ctx context.Context, se *model.StepExecution) error {
	for _, l := range j.stepListeners {
		if err := j.listenerError("BeforeStep", l.BeforeStep(ctx, se)); err != nil {
			return err
		}
	}
	return nil
}

func (j *SimpleJob) afterStep(ctx context.Context, se *model.StepExecution) error {
	var result *multierror.Error
	for _, l := range j.stepListeners {
		if err := j.listenerError("AfterStep", l.AfterStep(ctx, se)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// listenerError applies the listener error policy to err.
func (j *SimpleJob) listenerError(phase string, err error) error {
	if err == nil {
		return nil
	}
	if j.listenerPolicy == ListenerErrorWarn {
		logger.Warnf("Job '%s': %s listener error ignored: %v", j.name, phase, err)
		return nil
	}
	logger.Errorf("Job '%s': %s listener failed: %v", j.name, phase, err)
	return err
}
