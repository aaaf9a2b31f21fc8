package sql_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

func newMockRepository(t *testing.T) (*sqlrepo.SQLJobRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock := test.NewSQLMockConnection(t, "metadata")
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return sqlrepo.NewSQLJobRepository(&test.SingleConnectionResolver{Conn: conn}, "metadata"), mock
}

func TestSQLJobRepository_StaleUpdateIsOptimisticLockingFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	je := test.NewTestJobExecution(t, "job")

	mock.ExpectExec("UPDATE `batch_job_execution` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `batch_job_execution`").
		WithArgs(je.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.UpdateJobExecution(context.Background(), je)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err), "got %v", err)
}

func TestSQLJobRepository_UpdateOfMissingRowIsNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	je := test.NewTestJobExecution(t, "job")
	se := model.NewStepExecution(je, "step")

	mock.ExpectExec("UPDATE `batch_step_execution` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `batch_step_execution`").
		WithArgs(se.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	assert.ErrorIs(t, repo.UpdateStepExecution(context.Background(), se), repository.ErrStepExecutionNotFound)
}

func TestSQLJobRepository_DuplicateInstanceIsExists(t *testing.T) {
	repo, mock := newMockRepository(t)
	instance := test.NewTestJobInstance(t, "job", test.NewTestJobParameters(map[string]interface{}{"input": "a.csv"}))

	mock.ExpectExec("INSERT INTO `batch_job_instance`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry for key 'uk_batch_job_instance'"})

	assert.ErrorIs(t, repo.SaveJobInstance(context.Background(), instance), repository.ErrJobInstanceExists)
}

func TestSQLJobRepository_CheckpointNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	key := model.CheckpointKey{JobName: "job", JobInstanceID: "i-1", StepName: "step"}

	mock.ExpectQuery("SELECT \\* FROM `batch_checkpoint_data` WHERE").
		WithArgs(key.JobName, key.JobInstanceID, key.StepName, 1).
		WillReturnRows(sqlmock.NewRows([]string{"job_name", "job_instance_id", "step_name"}))

	_, err := repo.LoadCheckpoint(context.Background(), key)
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)
}

func TestSQLJobRepository_MissingTablesAreInfrastructureErrors(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT DISTINCT").
		WillReturnError(&mysqldriver.MySQLError{Number: 1146, Message: "Table 'batch.batch_job_instance' doesn't exist"})

	_, err := repo.GetJobNames(context.Background())
	require.Error(t, err)
	assert.True(t, exception.IsInfrastructure(err), "got %v", err)
	assert.Contains(t, err.Error(), "apply the repository migrations")
}
