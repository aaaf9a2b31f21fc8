package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const parquetModule = "ParquetWriter"

// ParquetWriterConfig is decoded from component properties.
type ParquetWriterConfig struct {
	// StorageRef names the storage connection.
	StorageRef string `mapstructure:"storage_ref"`
	// Bucket defaults to the connection's bucket_name.
	Bucket        string `mapstructure:"bucket"`
	OutputBaseDir string `mapstructure:"output_base_dir"`
	// CompressionType is SNAPPY (default), GZIP or NONE.
	CompressionType string `mapstructure:"compression_type"`
}

// ParquetWriter writes every chunk as one Parquet object per partition key.
// T must be a struct carrying parquet-go field tags.
//
// Objects are named <base>/<partition>/part-<instance>-<sequence>.parquet from
// the chunk in the context, so a chunk delivered again after a restart
// overwrites its own objects instead of adding new ones. Uploads are not part
// of the chunk transaction.
type ParquetWriter[T any] struct {
	name         string
	cfg          ParquetWriterConfig
	codec        parquet.CompressionCodec
	resolver     storage.StorageConnectionResolver
	partitionKey func(T) (string, error)

	conn   storage.StorageConnection
	bucket string
}

// NewParquetWriter validates cfg. A nil partitionKey writes every item to the
// base directory.
func NewParquetWriter[T any](name string, cfg ParquetWriterConfig, resolver storage.StorageConnectionResolver, partitionKey func(T) (string, error)) (*ParquetWriter[T], error) {
	if cfg.StorageRef == "" {
		return nil, exception.NewBatchErrorf(parquetModule, nil, "writer '%s' requires storage_ref", name)
	}
	if cfg.OutputBaseDir == "" {
		return nil, exception.NewBatchErrorf(parquetModule, nil, "writer '%s' requires output_base_dir", name)
	}
	codec, err := compressionCodec(cfg.CompressionType)
	if err != nil {
		return nil, exception.NewBatchErrorf(parquetModule, err, "writer '%s'", name)
	}
	if partitionKey == nil {
		partitionKey = func(T) (string, error) { return "", nil }
	}
	return &ParquetWriter[T]{name: name, cfg: cfg, codec: codec, resolver: resolver, partitionKey: partitionKey}, nil
}

var (
	_ port.ItemWriter[any] = (*ParquetWriter[any])(nil)
	_ port.ItemStream      = (*ParquetWriter[any])(nil)
)

// Open resolves the storage connection.
func (w *ParquetWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := w.resolver.ResolveStorageConnection(ctx, w.cfg.StorageRef)
	if err != nil {
		return exception.NewBatchErrorf(parquetModule, err, "writer '%s': failed to resolve storage '%s'", w.name, w.cfg.StorageRef)
	}
	w.conn = conn
	w.bucket = w.cfg.Bucket
	if w.bucket == "" {
		w.bucket = conn.Config().BucketName
	}
	return nil
}

// Close is a no-op; the connection belongs to its provider.
func (w *ParquetWriter[T]) Close(ctx context.Context) error {
	w.conn = nil
	return nil
}

func (w *ParquetWriter[T]) Write(ctx context.Context, _ tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if w.conn == nil {
		return exception.NewBatchErrorf(parquetModule, nil, "writer '%s' is not open", w.name)
	}

	var order []string
	partitions := make(map[string][]T)
	for _, item := range items {
		key, err := w.partitionKey(item)
		if err != nil {
			return exception.NewBatchErrorf(parquetModule, err, "writer '%s': failed to compute partition key", w.name)
		}
		if _, seen := partitions[key]; !seen {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], item)
	}

	fileName := w.fileName(ctx)
	var merr *multierror.Error
	for _, key := range order {
		objectName := path.Join(w.cfg.OutputBaseDir, key, fileName)
		if err := w.writePartition(ctx, objectName, partitions[key]); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func (w *ParquetWriter[T]) fileName(ctx context.Context) string {
	if info, ok := port.ChunkFromContext(ctx); ok {
		return fmt.Sprintf("part-%s-%06d.parquet", info.JobInstanceID, info.Sequence)
	}
	return fmt.Sprintf("part-%s.parquet", uuid.NewString())
}

func (w *ParquetWriter[T]) writePartition(ctx context.Context, objectName string, items []T) (err error) {
	buf := new(bytes.Buffer)
	pw, err := pqwriter.NewParquetWriterFromWriter(buf, new(T), 1)
	if err != nil {
		return exception.NewBatchErrorf(parquetModule, err, "writer '%s': failed to create parquet writer for %s", w.name, objectName)
	}
	pw.CompressionType = w.codec
	for _, item := range items {
		if err := pw.Write(item); err != nil {
			return exception.NewBatchErrorf(parquetModule, err, "writer '%s': failed to encode item for %s", w.name, objectName)
		}
	}

	// parquet-go panics on some schema mismatches during the footer flush.
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewBatchErrorf(parquetModule, fmt.Errorf("%v", r), "writer '%s': parquet writer panicked for %s", w.name, objectName)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return exception.NewBatchErrorf(parquetModule, err, "writer '%s': failed to finish %s", w.name, objectName)
	}

	if err := w.conn.Upload(ctx, w.bucket, objectName, buf, "application/vnd.apache.parquet"); err != nil {
		return exception.NewBatchErrorf(parquetModule, err, "writer '%s': failed to upload %s", w.name, objectName)
	}
	logger.Debugf("ParquetWriter '%s': uploaded %d items to %s.", w.name, len(items), objectName)
	return nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type %q", name)
	}
}
