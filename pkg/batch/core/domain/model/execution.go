package model

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// JobInstance is the logical identity of one parameterized job. It is immutable
// once created.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance creates a JobInstance and computes its parameters hash.
func NewJobInstance(jobName string, params JobParameters) (*JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: hash,
		CreateTime:     time.Now(),
	}, nil
}

// JobExecution is one attempt to run a JobInstance.
type JobExecution struct {
	ID              string
	JobInstanceID   string
	JobName         string
	Parameters      JobParameters
	Status          BatchStatus
	ExitStatus      ExitStatus
	ExitDescription string
	ExitCode        int
	StartTime       time.Time
	EndTime         *time.Time
	CreateTime      time.Time
	LastUpdated     time.Time
	Version         int
	Failures        FailureList
	StepExecutions  []*StepExecution
	RestartCount    int

	stopRequested atomic.Bool
}

// NewJobExecution creates a JobExecution in STARTING.
func NewJobExecution(jobInstanceID, jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:             NewID(),
		JobInstanceID:  jobInstanceID,
		JobName:        jobName,
		Parameters:     params,
		Status:         BatchStatusStarting,
		ExitStatus:     ExitStatusUnknown,
		CreateTime:     now,
		LastUpdated:    now,
		Failures:       FailureList{},
		StepExecutions: make([]*StepExecution, 0),
	}
}

// RequestStop asks the running job to stop at the next chunk boundary.
func (je *JobExecution) RequestStop() {
	je.stopRequested.Store(true)
}

// IsStopRequested reports whether RequestStop was called.
func (je *JobExecution) IsStopRequested() bool {
	return je.stopRequested.Load()
}

// TransitionTo moves the execution to newStatus or returns an error when the
// transition is not allowed. Only Status and LastUpdated change.
func (je *JobExecution) TransitionTo(newStatus BatchStatus) error {
	if !allowed(jobTransitions, je.Status, newStatus) {
		return fmt.Errorf("JobExecution (ID: %s): invalid state transition: %s -> %s", je.ID, je.Status, newStatus)
	}
	je.Status = newStatus
	je.LastUpdated = time.Now()
	return nil
}

// MarkAsStarted transitions to STARTED and stamps StartTime.
func (je *JobExecution) MarkAsStarted() error {
	if err := je.TransitionTo(BatchStatusStarted); err != nil {
		return err
	}
	je.StartTime = je.LastUpdated
	je.ExitStatus = ExitStatusExecuting
	return nil
}

// MarkAsCompleted transitions to COMPLETED.
func (je *JobExecution) MarkAsCompleted() error {
	return je.finish(BatchStatusCompleted, "")
}

// MarkAsFailed transitions to FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) error {
	je.AddFailureException(err)
	desc := ""
	if err != nil {
		desc = err.Error()
	}
	return je.finish(BatchStatusFailed, desc)
}

// MarkAsStopped transitions to STOPPED.
func (je *JobExecution) MarkAsStopped() error {
	return je.finish(BatchStatusStopped, "stopped at chunk boundary")
}

// MarkAsAbandoned retires a FAILED or STOPPED execution that is being restarted.
func (je *JobExecution) MarkAsAbandoned() error {
	if err := je.TransitionTo(BatchStatusAbandoned); err != nil {
		return err
	}
	je.ExitStatus = ExitStatusAbandoned
	return nil
}

func (je *JobExecution) finish(status BatchStatus, description string) error {
	if err := je.TransitionTo(status); err != nil {
		return err
	}
	je.ExitStatus = status.ToExitStatus()
	if description != "" {
		je.ExitDescription = description
	}
	je.ExitCode = ExitCodeForStatus(status)
	end := je.LastUpdated
	je.EndTime = &end
	if je.StartTime.IsZero() {
		je.StartTime = end
	}
	return nil
}

// AddFailureException records err's message once.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	je.Failures = appendFailure(je.Failures, err)
	je.LastUpdated = time.Now()
}

// AddStepExecution appends a StepExecution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	je.StepExecutions = append(je.StepExecutions, se)
}

// Totals sums the counters of all step executions.
func (je *JobExecution) Totals() (read, write, skip int) {
	for _, se := range je.StepExecutions {
		read += se.ReadCount
		write += se.WriteCount
		skip += se.SkipCount()
	}
	return read, write, skip
}

// Clone returns a copy safe to hand to another owner. StepExecutions are not copied.
func (je *JobExecution) Clone() *JobExecution {
	c := &JobExecution{
		ID:              je.ID,
		JobInstanceID:   je.JobInstanceID,
		JobName:         je.JobName,
		Parameters:      je.Parameters.Copy(),
		Status:          je.Status,
		ExitStatus:      je.ExitStatus,
		ExitDescription: je.ExitDescription,
		ExitCode:        je.ExitCode,
		StartTime:       je.StartTime,
		CreateTime:      je.CreateTime,
		LastUpdated:     je.LastUpdated,
		Version:         je.Version,
		Failures:        append(FailureList{}, je.Failures...),
		RestartCount:    je.RestartCount,
	}
	if je.EndTime != nil {
		end := *je.EndTime
		c.EndTime = &end
	}
	c.stopRequested.Store(je.stopRequested.Load())
	return c
}

// StepExecution is one attempt of one step within a JobExecution. Counters cover
// this attempt only.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecutionID   string
	JobExecution     *JobExecution
	Status           BatchStatus
	ExitStatus       ExitStatus
	ExitDescription  string
	StartTime        time.Time
	EndTime          *time.Time
	ReadCount        int
	WriteCount       int
	FilterCount      int
	SkipReadCount    int
	SkipProcessCount int
	CommitCount      int
	RollbackCount    int
	ExecutionContext ExecutionContext
	Failures         FailureList
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution creates a StepExecution in STARTING and attaches it to je.
func NewStepExecution(je *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		JobExecutionID:   je.ID,
		JobExecution:     je,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		ExecutionContext: NewExecutionContext(),
		Failures:         FailureList{},
		LastUpdated:      now,
	}
	je.AddStepExecution(se)
	return se
}

// SkipCount is the number of items excluded by the skip policy.
func (se *StepExecution) SkipCount() int {
	return se.SkipReadCount + se.SkipProcessCount
}

// TransitionTo moves the step to newStatus or returns an error when not allowed.
func (se *StepExecution) TransitionTo(newStatus BatchStatus) error {
	if !allowed(stepTransitions, se.Status, newStatus) {
		return fmt.Errorf("StepExecution (ID: %s): invalid state transition: %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	se.LastUpdated = time.Now()
	return nil
}

func (se *StepExecution) MarkAsStarted() error {
	if err := se.TransitionTo(BatchStatusStarted); err != nil {
		return err
	}
	se.StartTime = se.LastUpdated
	se.ExitStatus = ExitStatusExecuting
	return nil
}

func (se *StepExecution) MarkAsCompleted() error {
	return se.finish(BatchStatusCompleted, "")
}

// MarkAsFailed transitions to FAILED and records err as the exit description.
func (se *StepExecution) MarkAsFailed(err error) error {
	se.AddFailureException(err)
	desc := ""
	if err != nil {
		desc = err.Error()
	}
	return se.finish(BatchStatusFailed, desc)
}

func (se *StepExecution) MarkAsStopped() error {
	return se.finish(BatchStatusStopped, "stopped at chunk boundary")
}

// MarkAsSkipped records a step that already completed in an earlier execution
// of the same instance.
func (se *StepExecution) MarkAsSkipped() error {
	if err := se.TransitionTo(BatchStatusStarted); err != nil {
		return err
	}
	se.StartTime = se.LastUpdated
	if err := se.finish(BatchStatusCompleted, "skipped: already completed"); err != nil {
		return err
	}
	se.ExitStatus = ExitStatusNoOp
	return nil
}

func (se *StepExecution) finish(status BatchStatus, description string) error {
	if err := se.TransitionTo(status); err != nil {
		return err
	}
	se.ExitStatus = status.ToExitStatus()
	if description != "" {
		se.ExitDescription = description
	}
	end := se.LastUpdated
	se.EndTime = &end
	if se.StartTime.IsZero() {
		se.StartTime = end
	}
	return nil
}

// AddFailureException records err's message once.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	se.Failures = appendFailure(se.Failures, err)
	se.LastUpdated = time.Now()
}

// Clone returns a detached copy. JobExecution is left nil.
func (se *StepExecution) Clone() *StepExecution {
	c := *se
	c.JobExecution = nil
	c.ExecutionContext = se.ExecutionContext.Copy()
	c.Failures = append(FailureList{}, se.Failures...)
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	return &c
}

// DebugString summarizes the step without its execution context.
func (se *StepExecution) DebugString() string {
	return fmt.Sprintf("StepExecution{ID:%s Step:%s Status:%s Read:%d Write:%d Filter:%d Skip:%d Commit:%d Rollback:%d Version:%d}",
		se.ID, se.StepName, se.Status, se.ReadCount, se.WriteCount, se.FilterCount,
		se.SkipCount(), se.CommitCount, se.RollbackCount, se.Version)
}

func appendFailure(list FailureList, err error) FailureList {
	msg := exception.ExtractErrorMessage(err)
	if be, ok := exception.AsBatchError(err); ok && be.OriginalErr != nil {
		msg = be.Error()
	}
	for _, existing := range list {
		if existing == msg {
			return list
		}
	}
	return append(list, msg)
}

// CheckpointKey addresses the checkpoint of one step within one JobInstance.
type CheckpointKey struct {
	JobName       string
	JobInstanceID string
	StepName      string
}

func (k CheckpointKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.JobName, k.JobInstanceID, k.StepName)
}

// CheckpointData is the last committed ExecutionContext of a step.
type CheckpointData struct {
	JobName          string
	JobInstanceID    string
	StepName         string
	StepExecutionID  string
	ExecutionContext ExecutionContext
	Version          int
	LastUpdated      time.Time
}

// Key returns the checkpoint's address.
func (c *CheckpointData) Key() CheckpointKey {
	return CheckpointKey{JobName: c.JobName, JobInstanceID: c.JobInstanceID, StepName: c.StepName}
}
