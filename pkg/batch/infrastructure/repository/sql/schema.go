package sql

import (
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// Table names of the job repository schema.
const (
	jobInstanceTable   = "batch_job_instance"
	jobExecutionTable  = "batch_job_execution"
	stepExecutionTable = "batch_step_execution"
	checkpointTable    = "batch_checkpoint_data"
)

// JobInstanceEntity is a row of batch_job_instance.
type JobInstanceEntity struct {
	ID             string              `gorm:"primaryKey;size:36"`
	JobName        string              `gorm:"size:255;not null"`
	Parameters     model.JobParameters `gorm:"type:text;not null"`
	ParametersHash string              `gorm:"size:64;not null"`
	CreateTime     time.Time           `gorm:"not null"`
	Version        int                 `gorm:"not null;default:0"`
}

func (JobInstanceEntity) TableName() string { return jobInstanceTable }

// JobExecutionEntity is a row of batch_job_execution.
type JobExecutionEntity struct {
	ID              string              `gorm:"primaryKey;size:36"`
	JobInstanceID   string              `gorm:"size:36;not null"`
	JobName         string              `gorm:"size:255;not null"`
	Parameters      model.JobParameters `gorm:"type:text;not null"`
	Status          model.BatchStatus   `gorm:"size:16;not null"`
	ExitStatus      model.ExitStatus    `gorm:"size:32;not null"`
	ExitDescription string              `gorm:"type:text"`
	ExitCode        int
	StartTime       *time.Time
	EndTime         *time.Time
	CreateTime      time.Time         `gorm:"not null"`
	LastUpdated     time.Time         `gorm:"not null"`
	Version         int               `gorm:"not null;default:0"`
	Failures        model.FailureList `gorm:"type:text"`
	RestartCount    int
}

func (JobExecutionEntity) TableName() string { return jobExecutionTable }

// StepExecutionEntity is a row of batch_step_execution.
type StepExecutionEntity struct {
	ID               string            `gorm:"primaryKey;size:36"`
	StepName         string            `gorm:"size:255;not null"`
	JobExecutionID   string            `gorm:"size:36;not null"`
	Status           model.BatchStatus `gorm:"size:16;not null"`
	ExitStatus       model.ExitStatus  `gorm:"size:32;not null"`
	ExitDescription  string            `gorm:"type:text"`
	StartTime        *time.Time
	EndTime          *time.Time
	ReadCount        int
	WriteCount       int
	FilterCount      int
	SkipReadCount    int
	SkipProcessCount int
	CommitCount      int
	RollbackCount    int
	ExecutionContext model.ExecutionContext `gorm:"type:text"`
	Failures         model.FailureList      `gorm:"type:text"`
	// CreateTime orders the steps of one execution; it is set once on insert.
	CreateTime  time.Time `gorm:"not null"`
	LastUpdated time.Time `gorm:"not null"`
	Version     int       `gorm:"not null;default:0"`
}

func (StepExecutionEntity) TableName() string { return stepExecutionTable }

// CheckpointDataEntity is a row of batch_checkpoint_data, keyed by
// (job_name, job_instance_id, step_name).
type CheckpointDataEntity struct {
	JobName          string                 `gorm:"primaryKey;size:255"`
	JobInstanceID    string                 `gorm:"primaryKey;size:36"`
	StepName         string                 `gorm:"primaryKey;size:255"`
	StepExecutionID  string                 `gorm:"size:36;not null"`
	ExecutionContext model.ExecutionContext `gorm:"type:text;not null"`
	Version          int                    `gorm:"not null;default:0"`
	LastUpdated      time.Time              `gorm:"not null"`
}

func (CheckpointDataEntity) TableName() string { return checkpointTable }
