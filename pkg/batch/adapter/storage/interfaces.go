// Package storage defines the object storage contracts used by the objectstore
// checkpoint store and file sinks. Backends (local file system, GCS,
// S3-compatible) live in subpackages and register through the
// storage_providers fx group.
package storage

import (
	"context"
	"errors"
	"io"

	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
)

// ErrObjectNotFound is wrapped by Download when the object does not exist.
var ErrObjectNotFound = errors.New("storage object not found")

// StorageExecutor holds the object operations of a connection.
type StorageExecutor interface {
	// Upload writes data to bucket/objectName, replacing any existing object.
	// An empty bucket means the connection's configured bucket.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix, stopping at fn's
	// first error.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is a named, configured storage backend.
type StorageConnection interface {
	StorageExecutor

	Name() string
	Type() string
	Close() error
	Config() storageconfig.StorageConfig
}

// StorageProvider opens and caches the connections of one storage type.
type StorageProvider interface {
	GetConnection(name string) (StorageConnection, error)
	// ForceReconnect closes and reopens the named connection.
	ForceReconnect(name string) (StorageConnection, error)
	CloseAll() error
	Type() string
}

// StorageConnectionResolver returns a connection by configured name.
type StorageConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}

// StorageProviderGroup is the fx value group collecting every StorageProvider.
const StorageProviderGroup = "storage_providers"
