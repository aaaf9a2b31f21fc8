// Package item provides general-purpose item processors.
package item

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// PassThroughProcessor returns every item unchanged.
type PassThroughProcessor[T any] struct{}

func NewPassThroughProcessor[T any]() PassThroughProcessor[T] {
	return PassThroughProcessor[T]{}
}

func (PassThroughProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	return item, nil
}

// ProcessorFunc adapts a function to port.ItemProcessor.
type ProcessorFunc[I, O any] func(ctx context.Context, item I) (O, error)

func (f ProcessorFunc[I, O]) Process(ctx context.Context, item I) (O, error) {
	return f(ctx, item)
}

// CompositeProcessor applies processors in order. The first error, including
// port.ErrFilterItem, ends the chain for that item.
type CompositeProcessor[T any] struct {
	delegates []port.ItemProcessor[T, T]
}

func NewCompositeProcessor[T any](delegates ...port.ItemProcessor[T, T]) *CompositeProcessor[T] {
	return &CompositeProcessor[T]{delegates: delegates}
}

func (c *CompositeProcessor[T]) Process(ctx context.Context, item T) (T, error) {
	for _, d := range c.delegates {
		out, err := d.Process(ctx, item)
		if err != nil {
			var zero T
			return zero, err
		}
		item = out
	}
	return item, nil
}

var (
	_ port.ItemProcessor[any, any] = PassThroughProcessor[any]{}
	_ port.ItemProcessor[any, any] = ProcessorFunc[any, any](nil)
	_ port.ItemProcessor[any, any] = (*CompositeProcessor[any])(nil)
)
