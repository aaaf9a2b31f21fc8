// Package s3 implements the storage adapter over S3-compatible object stores
// with the MinIO client.
package s3

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "s3"

type s3Adapter struct {
	client *minio.Client
	cfg    storageconfig.StorageConfig
	name   string
}

var _ storage.StorageConnection = (*s3Adapter)(nil)

// NewS3Adapter builds the client. No request is made until the first operation.
func NewS3Adapter(cfg storageconfig.StorageConfig, name string) (storage.StorageConnection, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 storage '%s': endpoint must be specified", name)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 storage '%s': failed to create client: %w", name, err)
	}
	return &s3Adapter{client: client, cfg: cfg, name: name}, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (a *s3Adapter) Close() error { return nil }
func (a *s3Adapter) Type() string { return ProviderType }
func (a *s3Adapter) Name() string { return a.name }
func (a *s3Adapter) Config() storageconfig.StorageConfig { return a.cfg }

func (a *s3Adapter) bucketName(bucket string) (string, error) {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	if bucket == "" {
		return "", fmt.Errorf("s3 storage '%s': no bucket given and bucket_name is not configured", a.name)
	}
	return bucket, nil
}

// EnsureBucket creates the configured bucket when it does not exist.
func EnsureBucket(ctx context.Context, conn storage.StorageConnection) error {
	a, ok := conn.(*s3Adapter)
	if !ok {
		return fmt.Errorf("connection '%s' is not an s3 connection", conn.Name())
	}
	bucket, err := a.bucketName("")
	if err != nil {
		return err
	}
	exists, err := a.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("s3 storage '%s': bucket exists: %w", a.name, err)
	}
	if exists {
		return nil
	}
	return a.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: a.cfg.Region})
}

// Upload streams data with an unknown size, which the client sends as a
// multipart upload.
func (a *s3Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	name, err := a.bucketName(bucket)
	if err != nil {
		return err
	}
	if _, err := a.client.PutObject(ctx, name, objectName, data, -1, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("s3 storage '%s': failed to upload '%s': %w", a.name, objectName, err)
	}
	return nil
}

// Download stats the object first because GetObject defers errors to the
// first Read.
func (a *s3Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	name, err := a.bucketName(bucket)
	if err != nil {
		return nil, err
	}
	if _, err := a.client.StatObject(ctx, name, objectName, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("s3 '%s': %w", objectName, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("s3 storage '%s': failed to stat '%s': %w", a.name, objectName, err)
	}
	obj, err := a.client.GetObject(ctx, name, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 storage '%s': failed to download '%s': %w", a.name, objectName, err)
	}
	return obj, nil
}

func (a *s3Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	name, err := a.bucketName(bucket)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for info := range a.client.ListObjects(ctx, name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("s3 storage '%s': failed to list prefix '%s': %w", a.name, prefix, info.Err)
		}
		if err := fn(info.Key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteObject succeeds for missing objects, as S3 does.
func (a *s3Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	name, err := a.bucketName(bucket)
	if err != nil {
		return err
	}
	if err := a.client.RemoveObject(ctx, name, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 storage '%s': failed to delete '%s': %w", a.name, objectName, err)
	}
	return nil
}

func NewProvider(cfg *config.Config) storage.StorageProvider {
	return storage.NewBaseProvider(cfg, ProviderType, NewS3Adapter)
}

// Module contributes the S3 provider to the storage_providers group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.ResultTags(`group:"`+storage.StorageProviderGroup+`"`),
	)),
)
