package objectstore

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewFromConfig selects the checkpoint store named by
// infrastructure.checkpoint_store: "repository" returns the job repository
// itself, "objectstore" a CheckpointStore on storage_ref.
func NewFromConfig(cfg *config.Config, jobRepository repository.JobRepository, resolver storage.StorageConnectionResolver) (repository.ExecutionContextStore, error) {
	cs := cfg.Chunkflow.Infrastructure.CheckpointStore
	switch cs.Type {
	case "", "repository":
		return jobRepository, nil
	case "objectstore":
		if cs.StorageRef == "" {
			return nil, fmt.Errorf("checkpoint_store.storage_ref must name a storage connection")
		}
		logger.Infof("Checkpoints are stored on '%s' under '%s'.", cs.StorageRef, cs.Prefix)
		return NewCheckpointStore(resolver, cs.StorageRef, cs.Bucket, cs.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint_store type '%s'", cs.Type)
	}
}

// Module provides repository.ExecutionContextStore. It needs the job
// repository and the storage resolver.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
