package s3_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/s3"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

func TestNewS3Adapter_RequiresEndpoint(t *testing.T) {
	_, err := s3.NewS3Adapter(storageconfig.StorageConfig{Type: "s3", BucketName: "b"}, "objects")
	assert.ErrorContains(t, err, "endpoint must be specified")
}

func TestProvider_CachesConnectionsByName(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Storage["objects"] = storageconfig.StorageConfig{
		Type: "s3", Endpoint: "localhost:9000", BucketName: "checkpoints",
		AccessKey: "minio", SecretKey: "minio123", Region: "us-east-1",
	}
	provider := s3.NewProvider(cfg)
	resolver := storage.NewResolver(cfg, provider)
	t.Cleanup(func() { _ = resolver.CloseAll() })

	first, err := resolver.ResolveStorageConnection(context.Background(), "objects")
	require.NoError(t, err)
	second, err := provider.GetConnection("objects")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "s3", first.Type())
	assert.Equal(t, "checkpoints", first.Config().BucketName)

	again, err := provider.ForceReconnect("objects")
	require.NoError(t, err)
	assert.NotSame(t, first, again)
}

func TestProvider_TypeMismatch(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Storage["files"] = storageconfig.StorageConfig{Type: "local", BaseDir: t.TempDir()}
	_, err := s3.NewProvider(cfg).GetConnection("files")
	assert.ErrorContains(t, err, "type mismatch")

	_, err = local.NewProvider(cfg).GetConnection("files")
	assert.NoError(t, err)
}

func TestEnsureBucket_RejectsOtherConnections(t *testing.T) {
	conn, err := local.NewLocalAdapter(storageconfig.StorageConfig{Type: "local", BaseDir: t.TempDir()}, "files")
	require.NoError(t, err)
	assert.Error(t, s3.EnsureBucket(context.Background(), conn))
}
