// Package sql implements the job repository and the execution context store
// on a GORM connection. Every update of a versioned row is conditional on the
// version the caller read.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const repositoryModule = "sql_job_repository"

// SQLJobRepository implements repository.JobRepository.
type SQLJobRepository struct {
	dbResolver database.DBConnectionResolver
	// dbName is the configured connection holding the batch tables (e.g. "metadata").
	dbName string
	joinTx bool
}

var (
	_ repository.JobRepository      = (*SQLJobRepository)(nil)
	_ repository.TransactionalStore = (*SQLJobRepository)(nil)
)

// Option configures a SQLJobRepository.
type Option func(*SQLJobRepository)

// WithTransactionJoining makes SaveCheckpoint write inside the chunk
// transaction. Use it only when the steps' transaction manager runs on the
// same connection as the repository.
func WithTransactionJoining() Option {
	return func(r *SQLJobRepository) { r.joinTx = true }
}

func NewSQLJobRepository(dbResolver database.DBConnectionResolver, dbName string, opts ...Option) *SQLJobRepository {
	r := &SQLJobRepository{dbResolver: dbResolver, dbName: dbName}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JoinsTransaction implements repository.TransactionalStore.
func (r *SQLJobRepository) JoinsTransaction() bool {
	return r.joinTx
}

// Close leaves the connection open; the resolver owns it.
func (r *SQLJobRepository) Close() error {
	return nil
}

func (r *SQLJobRepository) db(ctx context.Context) (*gorm.DB, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewInfrastructureError(repositoryModule, fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err)
	}
	adapter, ok := conn.(*gormadapter.GormDBAdapter)
	if !ok {
		return nil, exception.NewInfrastructureError(repositoryModule, fmt.Sprintf("connection '%s' is not a GORM connection", r.dbName), nil)
	}
	return adapter.GormDB().WithContext(ctx), nil
}

// checkpointDB returns the chunk transaction when the repository joins it.
func (r *SQLJobRepository) checkpointDB(ctx context.Context) (*gorm.DB, error) {
	if !r.joinTx {
		return r.db(ctx)
	}
	if txDB, ok := gormadapter.ConnectionTxFromContext(ctx, r.dbName); ok {
		return txDB.WithContext(ctx), nil
	}
	if _, ok := gormadapter.DBFromContext(ctx); ok {
		return nil, exception.NewInfrastructureError(repositoryModule,
			fmt.Sprintf("chunk transaction does not run on connection '%s'; checkpoint cannot join it", r.dbName), nil)
	}
	return r.db(ctx)
}

func (r *SQLJobRepository) queryError(what string, err error) error {
	if gormadapter.IsTableNotExistError(err) {
		return exception.NewInfrastructureError(repositoryModule, what+": batch tables are missing, apply the repository migrations", err)
	}
	return exception.NewInfrastructureError(repositoryModule, what, err)
}

// versionedUpdate writes entity where (id, version) match and reports whether
// a row was changed. createTime is never overwritten.
func versionedUpdate(db *gorm.DB, table, id string, version int, entity interface{}) (bool, error) {
	res := db.Table(table).
		Where("id = ? AND version = ?", id, version).
		Select("*").
		Omit("id", "create_time").
		Updates(entity)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func exists(db *gorm.DB, table, id string) (bool, error) {
	var n int64
	if err := db.Table(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- JobInstance ---

func (r *SQLJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(fromDomainJobInstance(instance)).Error; err != nil {
		if gormadapter.IsDuplicateKeyError(err) {
			return fmt.Errorf("JobInstance %s %s: %w", instance.JobName, instance.Parameters, repository.ErrJobInstanceExists)
		}
		return r.queryError(fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entity JobInstanceEntity
	if err := db.Where("id = ?", id).Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobInstanceNotFound
		}
		return nil, r.queryError(fmt.Sprintf("failed to find JobInstance (ID: %s)", id), err)
	}
	return toDomainJobInstance(&entity), nil
}

// FindJobInstanceByJobNameAndParameters looks the instance up by parameters
// hash and confirms canonical equality.
func (r *SQLJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError(repositoryModule, "failed to hash JobParameters", errors.Join(exception.ErrInvalidJobParameters, err), false, false)
	}
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	var entities []JobInstanceEntity
	if err := db.Where("job_name = ? AND parameters_hash = ?", jobName, hash).Find(&entities).Error; err != nil {
		return nil, r.queryError("failed to find JobInstance", err)
	}
	for i := range entities {
		instance := toDomainJobInstance(&entities[i])
		if instance.Parameters.Equal(params) {
			return instance, nil
		}
		logger.Warnf("JobInstance (ID: %s) matched the parameters hash but not the parameters.", instance.ID)
	}
	return nil, repository.ErrJobInstanceNotFound
}

func (r *SQLJobRepository) FindLatestJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entities []JobInstanceEntity
	if err := db.Where("job_name = ?", jobName).Order("create_time DESC").Limit(1).Find(&entities).Error; err != nil {
		return nil, r.queryError("failed to find latest JobInstance", err)
	}
	if len(entities) == 0 {
		return nil, repository.ErrJobInstanceNotFound
	}
	return toDomainJobInstance(&entities[0]), nil
}

func (r *SQLJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0)
	if err := db.Model(&JobInstanceEntity{}).Distinct("job_name").Order("job_name").Pluck("job_name", &names).Error; err != nil {
		return nil, r.queryError("failed to list job names", err)
	}
	return names, nil
}

// --- JobExecution ---

func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(fromDomainJobExecution(jobExecution)).Error; err != nil {
		return r.queryError(fmt.Sprintf("failed to save JobExecution (ID: %s)", jobExecution.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	entity := fromDomainJobExecution(jobExecution)
	entity.Version = jobExecution.Version + 1

	updated, err := versionedUpdate(db, jobExecutionTable, jobExecution.ID, jobExecution.Version, entity)
	if err != nil {
		return r.queryError(fmt.Sprintf("failed to update JobExecution (ID: %s)", jobExecution.ID), err)
	}
	if !updated {
		found, err := exists(db, jobExecutionTable, jobExecution.ID)
		if err != nil {
			return r.queryError(fmt.Sprintf("failed to update JobExecution (ID: %s)", jobExecution.ID), err)
		}
		if !found {
			return fmt.Errorf("JobExecution with ID %s: %w", jobExecution.ID, repository.ErrJobExecutionNotFound)
		}
		return exception.NewOptimisticLockingFailure(repositoryModule,
			fmt.Sprintf("JobExecution %s: version %d is stale", jobExecution.ID, jobExecution.Version))
	}
	jobExecution.Version = entity.Version
	return nil
}

// FindJobExecutionByID returns the execution with its StepExecutions attached.
func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entity JobExecutionEntity
	if err := db.Where("id = ?", executionID).Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobExecutionNotFound
		}
		return nil, r.queryError(fmt.Sprintf("failed to find JobExecution (ID: %s)", executionID), err)
	}
	return r.withSteps(ctx, toDomainJobExecution(&entity))
}

func (r *SQLJobRepository) withSteps(ctx context.Context, je *model.JobExecution) (*model.JobExecution, error) {
	steps, err := r.FindStepExecutionsByJobExecution(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	for _, se := range steps {
		se.JobExecution = je
	}
	je.StepExecutions = steps
	return je, nil
}

// FindJobExecutionsByJobInstance returns all executions of the instance, newest first.
func (r *SQLJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	return r.findJobExecutions(ctx, 0, "job_instance_id = ?", jobInstanceID)
}

func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	executions, err := r.findJobExecutions(ctx, 1, "job_instance_id = ?", jobInstanceID)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(ctx, executions[0])
}

func (r *SQLJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	running := []model.BatchStatus{model.BatchStatusStarting, model.BatchStatusStarted, model.BatchStatusStopping}
	return r.findJobExecutions(ctx, 0, "job_name = ? AND status IN ?", jobName, running)
}

// findJobExecutions orders by restart count first: executions of one instance
// are created strictly one after another.
func (r *SQLJobRepository) findJobExecutions(ctx context.Context, limit int, where string, args ...interface{}) ([]*model.JobExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Where(where, args...).Order("restart_count DESC, create_time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entities []JobExecutionEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, r.queryError("failed to find JobExecutions", err)
	}
	executions := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		executions = append(executions, toDomainJobExecution(&entities[i]))
	}
	return executions, nil
}

// --- StepExecution ---

func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	entity := fromDomainStepExecution(stepExecution)
	entity.CreateTime = time.Now().UTC()
	if err := db.Create(entity).Error; err != nil {
		return r.queryError(fmt.Sprintf("failed to save StepExecution (ID: %s)", stepExecution.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	entity := fromDomainStepExecution(stepExecution)
	entity.Version = stepExecution.Version + 1

	updated, err := versionedUpdate(db, stepExecutionTable, stepExecution.ID, stepExecution.Version, entity)
	if err != nil {
		return r.queryError(fmt.Sprintf("failed to update StepExecution (ID: %s)", stepExecution.ID), err)
	}
	if !updated {
		found, err := exists(db, stepExecutionTable, stepExecution.ID)
		if err != nil {
			return r.queryError(fmt.Sprintf("failed to update StepExecution (ID: %s)", stepExecution.ID), err)
		}
		if !found {
			return fmt.Errorf("StepExecution with ID %s: %w", stepExecution.ID, repository.ErrStepExecutionNotFound)
		}
		return exception.NewOptimisticLockingFailure(repositoryModule,
			fmt.Sprintf("StepExecution %s: version %d is stale", stepExecution.ID, stepExecution.Version))
	}
	stepExecution.Version = entity.Version
	return nil
}

func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entity StepExecutionEntity
	if err := db.Where("id = ?", executionID).Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrStepExecutionNotFound
		}
		return nil, r.queryError(fmt.Sprintf("failed to find StepExecution (ID: %s)", executionID), err)
	}
	return toDomainStepExecution(&entity), nil
}

// FindStepExecutionsByJobExecution returns the steps of one execution in start order.
func (r *SQLJobRepository) FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entities []StepExecutionEntity
	if err := db.Where("job_execution_id = ?", jobExecutionID).Order("create_time ASC").Find(&entities).Error; err != nil {
		return nil, r.queryError("failed to find StepExecutions", err)
	}
	steps := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		steps = append(steps, toDomainStepExecution(&entities[i]))
	}
	return steps, nil
}

// FindLatestStepExecution returns the newest attempt of stepName across all
// executions of the instance.
func (r *SQLJobRepository) FindLatestStepExecution(ctx context.Context, jobInstanceID, stepName string) (*model.StepExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entities []StepExecutionEntity
	err = db.Table(stepExecutionTable+" AS s").
		Select("s.*").
		Joins("JOIN "+jobExecutionTable+" AS j ON j.id = s.job_execution_id").
		Where("j.job_instance_id = ? AND s.step_name = ?", jobInstanceID, stepName).
		Order("j.restart_count DESC, s.create_time DESC").
		Limit(1).
		Find(&entities).Error
	if err != nil {
		return nil, r.queryError("failed to find latest StepExecution", err)
	}
	if len(entities) == 0 {
		return nil, repository.ErrStepExecutionNotFound
	}
	return toDomainStepExecution(&entities[0]), nil
}

// --- ExecutionContextStore ---

// SaveCheckpoint upserts the checkpoint on its composite key and increments
// the stored Version.
func (r *SQLJobRepository) SaveCheckpoint(ctx context.Context, data *model.CheckpointData) error {
	db, err := r.checkpointDB(ctx)
	if err != nil {
		return err
	}
	entity := fromDomainCheckpointData(data)
	entity.Version = 0

	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_name"}, {Name: "job_instance_id"}, {Name: "step_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"step_execution_id": entity.StepExecutionID,
			"execution_context": entity.ExecutionContext,
			"last_updated":      entity.LastUpdated,
			"version":           gorm.Expr(checkpointTable + ".version + 1"),
		}),
	}).Create(entity).Error
	if err != nil {
		return r.queryError(fmt.Sprintf("failed to save checkpoint %s", data.Key()), err)
	}

	var stored CheckpointDataEntity
	if err := whereKey(db, data.Key()).Take(&stored).Error; err != nil {
		return r.queryError(fmt.Sprintf("failed to read back checkpoint %s", data.Key()), err)
	}
	data.Version = stored.Version
	return nil
}

// LoadCheckpoint returns repository.ErrCheckpointDataNotFound when no chunk
// of the step has committed yet.
func (r *SQLJobRepository) LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (*model.CheckpointData, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var entity CheckpointDataEntity
	if err := whereKey(db, key).Take(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrCheckpointDataNotFound
		}
		return nil, r.queryError(fmt.Sprintf("failed to load checkpoint %s", key), err)
	}
	return toDomainCheckpointData(&entity), nil
}

func whereKey(db *gorm.DB, key model.CheckpointKey) *gorm.DB {
	return db.Where("job_name = ? AND job_instance_id = ? AND step_name = ?", key.JobName, key.JobInstanceID, key.StepName)
}
