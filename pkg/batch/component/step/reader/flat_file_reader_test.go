package reader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type row struct {
	Name string
	Age  int
}

func mapRow(fields []string, line int) (row, error) {
	if len(fields) != 2 {
		return row{}, errors.New("expected 2 fields")
	}
	age, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return row{}, err
	}
	return row{Name: fields[0], Age: age}, nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAll[T any](t *testing.T, r port.ItemReader[T]) ([]T, []error) {
	t.Helper()
	var items []T
	var errs []error
	for {
		item, err := r.Read(context.Background())
		if errors.Is(err, port.ErrNoMoreItems) {
			return items, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
}

func TestFlatFileItemReader_ReadAll(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "name,age\nann,31\n\nbo,27\n# note\ncy,40\n")
	r := reader.NewFlatFileItemReader("people", reader.FileSource(path), mapRow,
		reader.WithLinesToSkip(1), reader.WithComment('#'))

	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	items, errs := readAll[row](t, r)
	require.NoError(t, r.Close(ctx))

	assert.Empty(t, errs)
	assert.Equal(t, []row{{"ann", 31}, {"bo", 27}, {"cy", 40}}, items)
}

func TestFlatFileItemReader_ResumeFromSavedPosition(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "name,age\nann,31\nbo,27\ncy,40\ndee,22\n")
	r := reader.NewFlatFileItemReader("people", reader.FileSource(path), mapRow, reader.WithLinesToSkip(1))

	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	_, err := r.Read(ctx)
	require.NoError(t, err)
	_, err = r.Read(ctx)
	require.NoError(t, err)
	ec, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))

	pos, ok := ec.GetInt("people.line")
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	restarted := reader.NewFlatFileItemReader("people", reader.FileSource(path), mapRow, reader.WithLinesToSkip(1))
	require.NoError(t, restarted.Open(ctx, ec))
	items, errs := readAll[row](t, restarted)
	assert.Empty(t, errs)
	assert.Equal(t, []row{{"cy", 40}, {"dee", 22}}, items)
}

func TestFlatFileItemReader_MappingErrorConsumesLine(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "ann,31\nbo,unknown\ncy,40\n")
	r := reader.NewFlatFileItemReader("people", reader.FileSource(path), mapRow)
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	items, errs := readAll[row](t, r)
	assert.Equal(t, []row{{"ann", 31}, {"cy", 40}}, items)
	require.Len(t, errs, 1)
	assert.True(t, exception.IsErrorOfType(errs[0], "*strconv.NumError"))
	assert.Contains(t, errs[0].Error(), "line 2")

	ec, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	pos, _ := ec.GetInt("people.line")
	assert.Equal(t, 3, pos)
}

func TestFlatFileItemReader_PositionPastEnd(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "ann,31\n")
	r := reader.NewFlatFileItemReader("people", reader.FileSource(path), mapRow)
	ec := model.NewExecutionContext()
	ec.Put("people.line", 5)
	assert.Error(t, r.Open(ctx, ec))
}

func TestFlatFileItemReader_StorageSource(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewConfig()
	cfg.Chunkflow.Storage["files"] = storageconfig.StorageConfig{Type: "local", BaseDir: t.TempDir()}
	resolver := storage.NewResolver(cfg, local.NewProvider(cfg))
	t.Cleanup(func() { _ = resolver.CloseAll() })

	conn, err := resolver.ResolveStorageConnection(ctx, "files")
	require.NoError(t, err)
	require.NoError(t, conn.Upload(ctx, "inbox", "people.tsv", strings.NewReader("ann\t31\nbo\t27\n"), "text/tab-separated-values"))

	r := reader.NewFlatFileItemReader("people",
		reader.StorageSource(resolver, "files", "inbox", "people.tsv"), mapRow, reader.WithDelimiter('\t'))
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	items, errs := readAll[row](t, r)
	require.NoError(t, r.Close(ctx))
	assert.Empty(t, errs)
	assert.Equal(t, []row{{"ann", 31}, {"bo", 27}}, items)

	missing := reader.NewFlatFileItemReader("people",
		reader.StorageSource(resolver, "files", "inbox", "absent.csv"), mapRow)
	assert.Error(t, missing.Open(ctx, model.NewExecutionContext()))
}

func TestFlatFileItemReader_ReadBeforeOpen(t *testing.T) {
	r := reader.NewFlatFileItemReader("people", reader.FileSource("unused"), mapRow)
	_, err := r.Read(context.Background())
	assert.Error(t, err)
}
