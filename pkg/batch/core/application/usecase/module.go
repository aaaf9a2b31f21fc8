package usecase

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// JobsParams collects every job contributed to the "jobs" value group.
type JobsParams struct {
	fx.In
	Jobs []port.Job `group:"jobs"`
}

// NewJobRegistryFromGroup registers every job of the "jobs" group.
func NewJobRegistryFromGroup(p JobsParams) (*MapJobRegistry, error) {
	r, err := NewMapJobRegistry(p.Jobs...)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Registered jobs: %v", r.JobNames())
	return r, nil
}

// Module provides the JobRegistry, JobLauncher and JobExplorer. Jobs are
// contributed with fx.Annotate(constructor, fx.ResultTags(`group:"jobs"`)).
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewJobRegistryFromGroup,
		fx.As(new(JobRegistry)),
	)),
	fx.Provide(NewSimpleJobLauncher),
	fx.Provide(func(l *SimpleJobLauncher) JobLauncher { return l }),
	fx.Provide(fx.Annotate(
		NewSimpleJobExplorer,
		fx.As(new(JobExplorer)),
	)),
)
