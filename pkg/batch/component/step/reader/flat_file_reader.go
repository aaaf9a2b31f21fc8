// Package reader provides restartable port.ItemReader implementations.
package reader

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const flatFileModule = "FlatFileItemReader"

// Source opens the byte stream a FlatFileItemReader parses.
type Source func(ctx context.Context) (io.ReadCloser, error)

// FileSource reads a file from the local filesystem.
func FileSource(path string) Source {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// StorageSource downloads an object through a named storage connection.
func StorageSource(resolver storage.StorageConnectionResolver, storageRef, bucket, objectName string) Source {
	return func(ctx context.Context) (io.ReadCloser, error) {
		conn, err := resolver.ResolveStorageConnection(ctx, storageRef)
		if err != nil {
			return nil, err
		}
		return conn.Download(ctx, bucket, objectName)
	}
}

// LineMapper turns one parsed record into an item. line is the 1-based line
// number in the source, for error messages.
type LineMapper[T any] func(fields []string, line int) (T, error)

// FlatFileOption configures a FlatFileItemReader.
type FlatFileOption func(*flatFileOptions)

type flatFileOptions struct {
	delimiter   rune
	comment     rune
	linesToSkip int
}

// WithDelimiter sets the field separator. Default ','.
func WithDelimiter(r rune) FlatFileOption {
	return func(o *flatFileOptions) { o.delimiter = r }
}

// WithComment makes lines starting with r ignored.
func WithComment(r rune) FlatFileOption {
	return func(o *flatFileOptions) { o.comment = r }
}

// WithLinesToSkip skips header records. They are not counted as items.
func WithLinesToSkip(n int) FlatFileOption {
	return func(o *flatFileOptions) { o.linesToSkip = n }
}

// FlatFileItemReader reads delimited records and maps each to an item.
//
// The position saved in the execution context is the number of data records
// consumed, under "<name>.line". On restart the reader re-parses the source and
// discards that many records. A record that fails to parse or map still counts
// as consumed, so a skipped bad line is not read again.
type FlatFileItemReader[T any] struct {
	name   string
	source Source
	mapper LineMapper[T]
	opts   flatFileOptions

	rc       io.ReadCloser
	csv      *csv.Reader
	consumed int
}

// NewFlatFileItemReader creates a reader. name must be unique within the step.
func NewFlatFileItemReader[T any](name string, source Source, mapper LineMapper[T], opts ...FlatFileOption) *FlatFileItemReader[T] {
	o := flatFileOptions{delimiter: ','}
	for _, opt := range opts {
		opt(&o)
	}
	return &FlatFileItemReader[T]{name: name, source: source, mapper: mapper, opts: o}
}

var _ port.ItemReader[any] = (*FlatFileItemReader[any])(nil)

func (r *FlatFileItemReader[T]) positionKey() string {
	return r.name + ".line"
}

func (r *FlatFileItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	if r.rc != nil {
		_ = r.rc.Close()
	}
	rc, err := r.source(ctx)
	if err != nil {
		return exception.NewBatchErrorf(flatFileModule, err, "reader '%s': failed to open source", r.name)
	}
	r.rc = rc
	r.csv = csv.NewReader(bufio.NewReader(rc))
	r.csv.Comma = r.opts.delimiter
	r.csv.Comment = r.opts.comment
	r.csv.FieldsPerRecord = -1
	r.consumed = 0

	for i := 0; i < r.opts.linesToSkip; i++ {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return exception.NewBatchErrorf(flatFileModule, err, "reader '%s': failed to skip header", r.name)
		}
	}

	resume, _ := ec.GetInt(r.positionKey())
	for r.consumed < resume {
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return exception.NewBatchErrorf(flatFileModule, nil,
					"reader '%s': saved position %d is past the end of the source (%d records)", r.name, resume, r.consumed)
			}
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return exception.NewBatchErrorf(flatFileModule, err, "reader '%s': failed to restore position", r.name)
			}
		}
		r.consumed++
	}
	if resume > 0 {
		logger.Infof("FlatFileItemReader '%s': resumed after %d records.", r.name, resume)
	}
	return nil
}

func (r *FlatFileItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.csv == nil {
		return zero, exception.NewBatchErrorf(flatFileModule, nil, "reader '%s' is not open", r.name)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	fields, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return zero, port.ErrNoMoreItems
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.consumed++
			return zero, fmt.Errorf("reader '%s': %w", r.name, err)
		}
		return zero, exception.NewBatchErrorf(flatFileModule, err, "reader '%s': failed to read source", r.name)
	}
	r.consumed++

	line, _ := r.csv.FieldPos(0)
	item, err := r.mapper(fields, line)
	if err != nil {
		return zero, fmt.Errorf("reader '%s': line %d: %w", r.name, line, err)
	}
	return item, nil
}

func (r *FlatFileItemReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.positionKey(), r.consumed)
	return ec, nil
}

func (r *FlatFileItemReader[T]) Close(ctx context.Context) error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc, r.csv = nil, nil
	if err != nil {
		return exception.NewBatchErrorf(flatFileModule, err, "reader '%s': failed to close source", r.name)
	}
	return nil
}
