package test

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// FakeStep completes, fails with Err, or stops when Stop is set. When Repo is
// set the final StepExecution is persisted like a real step would.
type FakeStep struct {
	Name  string
	Err   error
	Stop  bool
	Repo  repository.StepExecution
	Calls int
}

func (s *FakeStep) StepName() string {
	return s.Name
}

func (s *FakeStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	s.Calls++
	if err := se.MarkAsStarted(); err != nil {
		return err
	}
	var err error
	switch {
	case s.Err != nil:
		_ = se.MarkAsFailed(s.Err)
		err = s.Err
	case s.Stop:
		_ = se.MarkAsStopped()
	default:
		_ = se.MarkAsCompleted()
	}
	if s.Repo != nil {
		if updateErr := s.Repo.UpdateStepExecution(ctx, se); updateErr != nil && err == nil {
			err = updateErr
		}
	}
	return err
}
