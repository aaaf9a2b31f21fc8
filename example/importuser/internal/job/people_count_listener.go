package job

import (
	"context"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"

	"github.com/tigerroll/chunkflow/example/importuser/internal/domain"
)

// PeopleCountListener reports the size of the people table after a
// COMPLETED run.
type PeopleCountListener struct {
	resolver database.DBConnectionResolver
	dbRef    string
}

func NewPeopleCountListener(resolver database.DBConnectionResolver, dbRef string) *PeopleCountListener {
	return &PeopleCountListener{resolver: resolver, dbRef: dbRef}
}

func (l *PeopleCountListener) BeforeJob(ctx context.Context, je *model.JobExecution) error {
	return nil
}

func (l *PeopleCountListener) AfterJob(ctx context.Context, je *model.JobExecution) error {
	if je.Status != model.BatchStatusCompleted {
		return nil
	}
	conn, err := l.resolver.ResolveDBConnection(ctx, l.dbRef)
	if err != nil {
		return exception.NewBatchErrorf(JobName, err, "failed to resolve database '%s'", l.dbRef)
	}
	count, err := conn.Count(ctx, &domain.Person{}, nil)
	if err != nil {
		return exception.NewBatchErrorf(JobName, err, "failed to count people")
	}
	logger.Infof("!!! JOB FINISHED! Time to verify the results: %d people in the database.", count)
	return nil
}

var _ port.JobExecutionListener = (*PeopleCountListener)(nil)
