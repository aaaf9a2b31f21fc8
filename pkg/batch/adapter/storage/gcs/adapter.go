// Package gcs implements the storage adapter over Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/fx"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "gcs"

type gcsAdapter struct {
	client *gcsstorage.Client
	cfg    storageconfig.StorageConfig
	name   string
}

var _ storage.StorageConnection = (*gcsAdapter)(nil)

// ClientOptions derives the client options of cfg. Without a credentials file
// the client uses Application Default Credentials; Endpoint points it at an
// emulator.
func ClientOptions(cfg storageconfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	return opts
}

func NewGCSAdapter(cfg storageconfig.StorageConfig, name string) (storage.StorageConnection, error) {
	client, err := gcsstorage.NewClient(context.Background(), ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

func (a *gcsAdapter) Close() error { return a.client.Close() }
func (a *gcsAdapter) Type() string { return ProviderType }
func (a *gcsAdapter) Name() string { return a.name }
func (a *gcsAdapter) Config() storageconfig.StorageConfig { return a.cfg }

func (a *gcsAdapter) bucket(bucket string) (*gcsstorage.BucketHandle, error) {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage '%s': no bucket given and bucket_name is not configured", a.name)
	}
	return a.client.Bucket(bucket), nil
}

func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	handle, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	w := handle.Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs storage '%s': failed to upload '%s': %w", a.name, objectName, err)
	}
	// The object is committed by Close.
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs storage '%s': failed to upload '%s': %w", a.name, objectName, err)
	}
	return nil
}

func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	handle, err := a.bucket(bucket)
	if err != nil {
		return nil, err
	}
	r, err := handle.Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcsstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gcs '%s': %w", objectName, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("gcs storage '%s': failed to download '%s': %w", a.name, objectName, err)
	}
	return r, nil
}

func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	handle, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	it := handle.Objects(ctx, &gcsstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gcs storage '%s': failed to list prefix '%s': %w", a.name, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	handle, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	if err := handle.Object(objectName).Delete(ctx); err != nil && !errors.Is(err, gcsstorage.ErrObjectNotExist) {
		return fmt.Errorf("gcs storage '%s': failed to delete '%s': %w", a.name, objectName, err)
	}
	return nil
}

func NewProvider(cfg *config.Config) storage.StorageProvider {
	return storage.NewBaseProvider(cfg, ProviderType, NewGCSAdapter)
}

// Module contributes the GCS provider to the storage_providers group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+storage.StorageProviderGroup+`"`),
	)),
)
