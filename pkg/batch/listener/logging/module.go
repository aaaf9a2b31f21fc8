package logging

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/core/job"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
)

// Listeners bundles one of each logging listener.
type Listeners struct {
	Job   *JobListener
	Step  *StepListener
	Chunk *ChunkListener
	Skip  *SkipListener
	Retry *RetryListener
}

func NewListeners() *Listeners {
	return &Listeners{
		Job:   NewJobListener(),
		Step:  NewStepListener(),
		Chunk: NewChunkListener(),
		Skip:  NewSkipListener(),
		Retry: NewRetryListener(),
	}
}

// JobOptions registers the job and step listeners on a SimpleJob.
func (l *Listeners) JobOptions() []job.Option {
	return []job.Option{job.WithJobListener(l.Job), job.WithStepListener(l.Step)}
}

// StepOptions registers the chunk, skip and retry listeners on a ChunkStep.
func (l *Listeners) StepOptions() []item.Option {
	return []item.Option{
		item.WithChunkListener(l.Chunk),
		item.WithSkipListener(l.Skip),
		item.WithRetryListener(l.Retry),
	}
}

// Module provides *Listeners.
var Module = fx.Options(
	fx.Provide(NewListeners),
)
