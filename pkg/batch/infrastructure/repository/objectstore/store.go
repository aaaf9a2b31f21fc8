// Package objectstore keeps step checkpoints as JSON objects on a storage
// connection (local file system, GCS or S3). Objects are written after the
// chunk transaction commits.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const storeModule = "objectstore_checkpoint_store"

// document is the stored form of one checkpoint.
type document struct {
	JobName          string                 `json:"job_name"`
	JobInstanceID    string                 `json:"job_instance_id"`
	StepName         string                 `json:"step_name"`
	StepExecutionID  string                 `json:"step_execution_id"`
	ExecutionContext model.ExecutionContext `json:"execution_context"`
	Version          int                    `json:"version"`
	LastUpdated      time.Time              `json:"last_updated"`
}

// CheckpointStore implements repository.ExecutionContextStore. Saves for one
// key must not race; the launch lock guarantees a single writer per instance.
type CheckpointStore struct {
	resolver   storage.StorageConnectionResolver
	storageRef string
	bucket     string
	prefix     string
}

var _ repository.ExecutionContextStore = (*CheckpointStore)(nil)

// NewCheckpointStore stores objects under prefix in bucket of the storageRef
// connection. An empty bucket uses the connection's configured bucket.
func NewCheckpointStore(resolver storage.StorageConnectionResolver, storageRef, bucket, prefix string) *CheckpointStore {
	return &CheckpointStore{resolver: resolver, storageRef: storageRef, bucket: bucket, prefix: prefix}
}

// ObjectName is the object holding key's checkpoint.
func (s *CheckpointStore) ObjectName(key model.CheckpointKey) string {
	return path.Join(s.prefix, key.JobName, key.JobInstanceID, key.StepName+".json")
}

func (s *CheckpointStore) connection(ctx context.Context) (storage.StorageConnection, error) {
	conn, err := s.resolver.ResolveStorageConnection(ctx, s.storageRef)
	if err != nil {
		return nil, exception.NewInfrastructureError(storeModule, fmt.Sprintf("failed to resolve storage '%s'", s.storageRef), err)
	}
	return conn, nil
}

// SaveCheckpoint replaces the object of data's key and sets data.Version to
// the stored version.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, data *model.CheckpointData) error {
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	version := 0
	prev, err := s.load(ctx, conn, data.Key())
	switch {
	case err == nil:
		version = prev.Version + 1
	case !errors.Is(err, repository.ErrCheckpointDataNotFound):
		return err
	}

	doc := document{
		JobName:          data.JobName,
		JobInstanceID:    data.JobInstanceID,
		StepName:         data.StepName,
		StepExecutionID:  data.StepExecutionID,
		ExecutionContext: data.ExecutionContext,
		Version:          version,
		LastUpdated:      time.Now().UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return exception.NewBatchError(storeModule, fmt.Sprintf("failed to marshal checkpoint %s", data.Key()), err, false, false)
	}
	name := s.ObjectName(data.Key())
	if err := conn.Upload(ctx, s.bucket, name, bytes.NewReader(body), "application/json"); err != nil {
		return exception.NewInfrastructureError(storeModule, fmt.Sprintf("failed to write checkpoint object '%s'", name), err)
	}
	data.Version = version
	data.LastUpdated = doc.LastUpdated
	return nil
}

// LoadCheckpoint returns repository.ErrCheckpointDataNotFound when the object
// does not exist.
func (s *CheckpointStore) LoadCheckpoint(ctx context.Context, key model.CheckpointKey) (*model.CheckpointData, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, conn, key)
}

func (s *CheckpointStore) load(ctx context.Context, conn storage.StorageConnection, key model.CheckpointKey) (*model.CheckpointData, error) {
	name := s.ObjectName(key)
	r, err := conn.Download(ctx, s.bucket, name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, repository.ErrCheckpointDataNotFound
		}
		return nil, exception.NewInfrastructureError(storeModule, fmt.Sprintf("failed to read checkpoint object '%s'", name), err)
	}
	defer r.Close()

	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, exception.NewInfrastructureError(storeModule, fmt.Sprintf("checkpoint object '%s' is corrupt", name), err)
	}
	if doc.ExecutionContext == nil {
		doc.ExecutionContext = model.NewExecutionContext()
	}
	return &model.CheckpointData{
		JobName:          doc.JobName,
		JobInstanceID:    doc.JobInstanceID,
		StepName:         doc.StepName,
		StepExecutionID:  doc.StepExecutionID,
		ExecutionContext: doc.ExecutionContext,
		Version:          doc.Version,
		LastUpdated:      doc.LastUpdated,
	}, nil
}
