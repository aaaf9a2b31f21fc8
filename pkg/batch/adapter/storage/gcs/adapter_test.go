package gcs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/gcs"
)

func TestClientOptions(t *testing.T) {
	assert.Empty(t, gcs.ClientOptions(storageconfig.StorageConfig{Type: "gcs"}))
	assert.Len(t, gcs.ClientOptions(storageconfig.StorageConfig{Type: "gcs", CredentialsFile: "/etc/sa.json"}), 1)
	assert.Len(t, gcs.ClientOptions(storageconfig.StorageConfig{Type: "gcs", Endpoint: "http://localhost:4443/storage/v1/"}), 2)
}

func TestNewGCSAdapter_EmulatorEndpoint(t *testing.T) {
	conn, err := gcs.NewGCSAdapter(storageconfig.StorageConfig{
		Type: "gcs", BucketName: "checkpoints", Endpoint: "http://localhost:4443/storage/v1/",
	}, "cloud")
	if assert.NoError(t, err) {
		assert.Equal(t, "gcs", conn.Type())
		assert.Equal(t, "cloud", conn.Name())
		assert.NoError(t, conn.Close())
	}
}
