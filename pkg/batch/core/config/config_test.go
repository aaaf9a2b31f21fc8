package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

const testYAML = `
chunkflow:
  batch:
    job_name: importUserJob
    chunk_size: 5
    item_skip:
      skip_limit: 2
      skippable_exceptions: ["*strconv.NumError"]
  infrastructure:
    job_repository:
      type: sql
      db_ref: metadata
    lock:
      type: redis
      redis_url: ${TEST_REDIS_URL}
  database:
    metadata:
      type: sqlite
      database: ":memory:"
  components:
    exportWriter:
      bucket: exports
      flush_timeout: 3s
`

func TestNewConfig_Defaults(t *testing.T) {
	cfg := config.NewConfig()

	assert.Equal(t, "UTC", cfg.Chunkflow.System.Timezone)
	assert.Equal(t, "INFO", cfg.Chunkflow.System.Logging.Level)
	assert.Equal(t, 10, cfg.Chunkflow.Batch.ChunkSize)
	assert.Equal(t, 1, cfg.Chunkflow.Batch.TransformConcurrency)
	assert.Equal(t, "memory", cfg.Chunkflow.Infrastructure.JobRepository.Type)
	assert.NotEmpty(t, cfg.Chunkflow.Security.MaskedParameterKeys)
	assert.NoError(t, config.Validate(cfg))
}

func TestLoadConfig_YAMLAndEnvironment(t *testing.T) {
	t.Setenv("TEST_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CHUNKFLOW_BATCH_CHUNK_SIZE", "7")
	t.Setenv("CHUNKFLOW_DATABASE_METADATA_USER", "batch")
	t.Setenv("CHUNKFLOW_SECURITY_MASKED_PARAMETER_KEYS", "token, password")

	cfg, err := config.LoadConfig("testdata/missing.env", config.EmbeddedConfig(testYAML))
	require.NoError(t, err)

	assert.Equal(t, "importUserJob", cfg.Chunkflow.Batch.JobName)
	assert.Equal(t, 7, cfg.Chunkflow.Batch.ChunkSize, "environment overrides YAML")
	assert.Equal(t, 2, cfg.Chunkflow.Batch.ItemSkip.SkipLimit)
	assert.Equal(t, 3, cfg.Chunkflow.Batch.ItemRetry.MaxAttempts, "defaults survive a partial YAML")
	assert.Equal(t, "sql", cfg.Chunkflow.Infrastructure.JobRepository.Type)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Chunkflow.Infrastructure.Lock.RedisURL)
	assert.Equal(t, 3600, cfg.Chunkflow.Infrastructure.Lock.TTLSeconds)
	assert.Equal(t, "sqlite", cfg.Chunkflow.Databases["metadata"].Type)
	assert.Equal(t, "batch", cfg.Chunkflow.Databases["metadata"].User)
	assert.Equal(t, []string{"token", "password"}, cfg.Chunkflow.Security.MaskedParameterKeys)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Batch.ChunkSize = 0
	assert.Error(t, config.Validate(cfg))

	cfg = config.NewConfig()
	cfg.Chunkflow.Batch.ListenerErrors = "ignore"
	assert.Error(t, config.Validate(cfg))

	cfg = config.NewConfig()
	cfg.Chunkflow.Batch.ItemRetry.RetryableExceptions = []string{"NoSuchKind"}
	assert.Error(t, config.Validate(cfg))
}

func TestDecodeComponentProperties(t *testing.T) {
	cfg, err := config.LoadConfig("testdata/missing.env", config.EmbeddedConfig(testYAML))
	require.NoError(t, err)

	var props struct {
		Bucket       string        `mapstructure:"bucket"`
		FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	}
	require.NoError(t, config.DecodeComponentProperties(cfg, "exportWriter", &props))
	assert.Equal(t, "exports", props.Bucket)
	assert.Equal(t, 3*time.Second, props.FlushTimeout)

	require.NoError(t, config.DecodeComponentProperties(cfg, "unknown", &props))
}
