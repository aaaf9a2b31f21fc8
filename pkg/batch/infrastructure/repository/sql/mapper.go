package sql

import (
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Times are stored in UTC so that text-backed dialects order them correctly.

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return utcPtr(&t)
}

func valueOf(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	return &JobInstanceEntity{
		ID:             ji.ID,
		JobName:        ji.JobName,
		Parameters:     ji.Parameters,
		ParametersHash: ji.ParametersHash,
		CreateTime:     utc(ji.CreateTime),
		Version:        ji.Version,
	}
}

func toDomainJobInstance(e *JobInstanceEntity) *model.JobInstance {
	return &model.JobInstance{
		ID:             e.ID,
		JobName:        e.JobName,
		Parameters:     e.Parameters,
		ParametersHash: e.ParametersHash,
		CreateTime:     e.CreateTime,
		Version:        e.Version,
	}
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:              je.ID,
		JobInstanceID:   je.JobInstanceID,
		JobName:         je.JobName,
		Parameters:      je.Parameters,
		Status:          je.Status,
		ExitStatus:      je.ExitStatus,
		ExitDescription: je.ExitDescription,
		ExitCode:        je.ExitCode,
		StartTime:       optionalTime(je.StartTime),
		EndTime:         utcPtr(je.EndTime),
		CreateTime:      utc(je.CreateTime),
		LastUpdated:     utc(je.LastUpdated),
		Version:         je.Version,
		Failures:        je.Failures,
		RestartCount:    je.RestartCount,
	}
}

func toDomainJobExecution(e *JobExecutionEntity) *model.JobExecution {
	failures := e.Failures
	if failures == nil {
		failures = model.FailureList{}
	}
	return &model.JobExecution{
		ID:              e.ID,
		JobInstanceID:   e.JobInstanceID,
		JobName:         e.JobName,
		Parameters:      e.Parameters,
		Status:          e.Status,
		ExitStatus:      e.ExitStatus,
		ExitDescription: e.ExitDescription,
		ExitCode:        e.ExitCode,
		StartTime:       valueOf(e.StartTime),
		EndTime:         e.EndTime,
		CreateTime:      e.CreateTime,
		LastUpdated:     e.LastUpdated,
		Version:         e.Version,
		Failures:        failures,
		StepExecutions:  make([]*model.StepExecution, 0),
		RestartCount:    e.RestartCount,
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   se.JobExecutionID,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		ExitDescription:  se.ExitDescription,
		StartTime:        optionalTime(se.StartTime),
		EndTime:          utcPtr(se.EndTime),
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		FilterCount:      se.FilterCount,
		SkipReadCount:    se.SkipReadCount,
		SkipProcessCount: se.SkipProcessCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		ExecutionContext: se.ExecutionContext,
		Failures:         se.Failures,
		LastUpdated:      utc(se.LastUpdated),
		Version:          se.Version,
	}
}

// toDomainStepExecution leaves JobExecution for the caller to attach.
func toDomainStepExecution(e *StepExecutionEntity) *model.StepExecution {
	ec := e.ExecutionContext
	if ec == nil {
		ec = model.NewExecutionContext()
	}
	failures := e.Failures
	if failures == nil {
		failures = model.FailureList{}
	}
	return &model.StepExecution{
		ID:               e.ID,
		StepName:         e.StepName,
		JobExecutionID:   e.JobExecutionID,
		Status:           e.Status,
		ExitStatus:       e.ExitStatus,
		ExitDescription:  e.ExitDescription,
		StartTime:        valueOf(e.StartTime),
		EndTime:          e.EndTime,
		ReadCount:        e.ReadCount,
		WriteCount:       e.WriteCount,
		FilterCount:      e.FilterCount,
		SkipReadCount:    e.SkipReadCount,
		SkipProcessCount: e.SkipProcessCount,
		CommitCount:      e.CommitCount,
		RollbackCount:    e.RollbackCount,
		ExecutionContext: ec,
		Failures:         failures,
		LastUpdated:      e.LastUpdated,
		Version:          e.Version,
	}
}

func fromDomainCheckpointData(cd *model.CheckpointData) *CheckpointDataEntity {
	ec := cd.ExecutionContext
	if ec == nil {
		ec = model.NewExecutionContext()
	}
	last := cd.LastUpdated
	if last.IsZero() {
		last = time.Now()
	}
	return &CheckpointDataEntity{
		JobName:          cd.JobName,
		JobInstanceID:    cd.JobInstanceID,
		StepName:         cd.StepName,
		StepExecutionID:  cd.StepExecutionID,
		ExecutionContext: ec,
		Version:          cd.Version,
		LastUpdated:      utc(last),
	}
}

func toDomainCheckpointData(e *CheckpointDataEntity) *model.CheckpointData {
	return &model.CheckpointData{
		JobName:          e.JobName,
		JobInstanceID:    e.JobInstanceID,
		StepName:         e.StepName,
		StepExecutionID:  e.StepExecutionID,
		ExecutionContext: e.ExecutionContext,
		Version:          e.Version,
		LastUpdated:      e.LastUpdated,
	}
}
