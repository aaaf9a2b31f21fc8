package item_test

import (
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

func configForTest() config.BatchConfig {
	cfg := config.NewConfig().Chunkflow.Batch
	cfg.ChunkSize = 3
	return cfg
}
