package test

import (
	"context"
	"fmt"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

const listReaderIndexKey = "index"

// ListReader reads a fixed slice and checkpoints its index. ReadErrs maps a
// zero-based position to an error returned instead of that item; the position
// is consumed either way.
type ListReader[T any] struct {
	Items    []T
	ReadErrs map[int]error

	index  int
	Opened bool
	Closed bool
}

func NewListReader[T any](items ...T) *ListReader[T] {
	return &ListReader[T]{Items: items}
}

func (r *ListReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.index = 0
	if i, ok := ec.GetInt(listReaderIndexKey); ok {
		r.index = i
	}
	r.Opened = true
	return nil
}

func (r *ListReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.index >= len(r.Items) {
		return zero, port.ErrNoMoreItems
	}
	pos := r.index
	r.index++
	if err, ok := r.ReadErrs[pos]; ok {
		return zero, err
	}
	return r.Items[pos], nil
}

func (r *ListReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(listReaderIndexKey, r.index)
	return ec, nil
}

func (r *ListReader[T]) Close(ctx context.Context) error {
	r.Closed = true
	return nil
}

// FuncProcessor adapts a function to port.ItemProcessor.
type FuncProcessor[I, O any] func(ctx context.Context, item I) (O, error)

func (f FuncProcessor[I, O]) Process(ctx context.Context, item I) (O, error) {
	return f(ctx, item)
}

// CollectingWriter records every chunk it is asked to write. Errs are
// returned by successive Write calls before writes succeed.
type CollectingWriter[T any] struct {
	mu     sync.Mutex
	Chunks [][]T
	Infos  []port.ChunkInfo
	Errs   []error
	Calls  int
}

func (w *CollectingWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Calls++
	if len(w.Errs) > 0 {
		err := w.Errs[0]
		w.Errs = w.Errs[1:]
		return err
	}
	if t == nil {
		return fmt.Errorf("write called without a transaction")
	}
	w.Chunks = append(w.Chunks, append([]T(nil), items...))
	if info, ok := port.ChunkFromContext(ctx); ok {
		w.Infos = append(w.Infos, info)
	}
	return nil
}

// Items flattens all written chunks.
func (w *CollectingWriter[T]) Items() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []T
	for _, c := range w.Chunks {
		out = append(out, c...)
	}
	return out
}

// ChunkSizes returns the size of each written chunk in order.
func (w *CollectingWriter[T]) ChunkSizes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	sizes := make([]int, len(w.Chunks))
	for i, c := range w.Chunks {
		sizes[i] = len(c)
	}
	return sizes
}
