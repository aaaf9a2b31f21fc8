package admin

import (
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
)

type stepView struct {
	ID               string     `json:"id"`
	StepName         string     `json:"step_name"`
	Status           string     `json:"status"`
	ExitStatus       string     `json:"exit_status"`
	ExitDescription  string     `json:"exit_description,omitempty"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	ReadCount        int        `json:"read_count"`
	WriteCount       int        `json:"write_count"`
	FilterCount      int        `json:"filter_count"`
	SkipReadCount    int        `json:"skip_read_count"`
	SkipProcessCount int        `json:"skip_process_count"`
	CommitCount      int        `json:"commit_count"`
	RollbackCount    int        `json:"rollback_count"`
	Failures         []string   `json:"failures,omitempty"`
}

type executionView struct {
	ID              string                 `json:"id"`
	JobInstanceID   string                 `json:"job_instance_id"`
	JobName         string                 `json:"job_name"`
	Parameters      map[string]interface{} `json:"parameters"`
	Status          string                 `json:"status"`
	ExitStatus      string                 `json:"exit_status"`
	ExitCode        int                    `json:"exit_code"`
	ExitDescription string                 `json:"exit_description,omitempty"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         *time.Time             `json:"end_time,omitempty"`
	RestartCount    int                    `json:"restart_count"`
	Failures        []string               `json:"failures,omitempty"`
	Steps           []stepView             `json:"steps"`
}

func newExecutionView(je *model.JobExecution, maskedKeys []string) executionView {
	params := make(map[string]interface{}, len(je.Parameters.Params))
	for k, v := range je.Parameters.Params {
		params[k] = v
	}
	for _, k := range maskedKeys {
		if _, ok := params[k]; ok {
			params[k] = serialization.Mask
		}
	}

	v := executionView{
		ID:              je.ID,
		JobInstanceID:   je.JobInstanceID,
		JobName:         je.JobName,
		Parameters:      params,
		Status:          je.Status.String(),
		ExitStatus:      je.ExitStatus.String(),
		ExitCode:        je.ExitCode,
		ExitDescription: je.ExitDescription,
		StartTime:       je.StartTime,
		EndTime:         je.EndTime,
		RestartCount:    je.RestartCount,
		Failures:        je.Failures,
		Steps:           make([]stepView, 0, len(je.StepExecutions)),
	}
	for _, se := range je.StepExecutions {
		v.Steps = append(v.Steps, stepView{
			ID:               se.ID,
			StepName:         se.StepName,
			Status:           se.Status.String(),
			ExitStatus:       se.ExitStatus.String(),
			ExitDescription:  se.ExitDescription,
			StartTime:        se.StartTime,
			EndTime:          se.EndTime,
			ReadCount:        se.ReadCount,
			WriteCount:       se.WriteCount,
			FilterCount:      se.FilterCount,
			SkipReadCount:    se.SkipReadCount,
			SkipProcessCount: se.SkipProcessCount,
			CommitCount:      se.CommitCount,
			RollbackCount:    se.RollbackCount,
			Failures:         se.Failures,
		})
	}
	return v
}
