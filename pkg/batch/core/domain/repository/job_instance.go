package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// ErrJobInstanceNotFound is returned when no JobInstance matches a lookup.
var ErrJobInstanceNotFound = errors.New("job instance not found")

// ErrJobInstanceExists is returned when (job name, parameters hash) is already taken.
var ErrJobInstanceExists = errors.New("job instance already exists")

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobInstanceExists", ErrJobInstanceExists)
}

// JobInstance persists job identities. (job name, parameters hash) is unique.
type JobInstance interface {
	// SaveJobInstance stores a new instance; a duplicate identity yields ErrJobInstanceExists.
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error

	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)

	// FindJobInstanceByJobNameAndParameters returns ErrJobInstanceNotFound when
	// the parameter set was never launched for jobName.
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// FindLatestJobInstance returns the most recently created instance of jobName.
	FindLatestJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error)

	GetJobNames(ctx context.Context) ([]string, error)
}
