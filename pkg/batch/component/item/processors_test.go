package item_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

func TestPassThroughProcessor(t *testing.T) {
	out, err := item.NewPassThroughProcessor[string]().Process(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, "ann", out)
}

func TestCompositeProcessor(t *testing.T) {
	calls := 0
	trim := item.ProcessorFunc[string, string](func(ctx context.Context, s string) (string, error) {
		calls++
		return strings.TrimSpace(s), nil
	})
	dropBlank := item.ProcessorFunc[string, string](func(ctx context.Context, s string) (string, error) {
		if s == "" {
			return "", port.ErrFilterItem
		}
		return s, nil
	})
	upper := item.ProcessorFunc[string, string](func(ctx context.Context, s string) (string, error) {
		return strings.ToUpper(s), nil
	})
	chain := item.NewCompositeProcessor[string](trim, dropBlank, upper)

	out, err := chain.Process(context.Background(), "  ann ")
	require.NoError(t, err)
	assert.Equal(t, "ANN", out)

	_, err = chain.Process(context.Background(), "   ")
	assert.True(t, errors.Is(err, port.ErrFilterItem))
	assert.Equal(t, 2, calls)

	empty := item.NewCompositeProcessor[int]()
	n, err := empty.Process(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
