package reader

import (
	"context"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const pagingModule = "PagingItemReader"

// DefaultPageSize is used when NewPagingItemReader is given a page size < 1.
const DefaultPageSize = 100

// PagingItemReader reads rows of T through a named database connection one
// page at a time. T is bound to a table the way the gorm adapter binds models
// (a TableName method or gorm's naming strategy).
//
// The saved position is the number of rows returned, under "<name>.readCount";
// a restart requests the page starting at that offset. orderBy must give a
// total order over the rows, otherwise pages may overlap across restarts.
type PagingItemReader[T any] struct {
	resolver database.DBConnectionResolver
	dbRef    string
	name     string
	filter   map[string]interface{}
	orderBy  string
	pageSize int

	conn      database.DBConnection
	page      []T
	pos       int
	readCount int
	exhausted bool
}

func NewPagingItemReader[T any](resolver database.DBConnectionResolver, dbRef, name string, filter map[string]interface{}, orderBy string, pageSize int) *PagingItemReader[T] {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &PagingItemReader[T]{
		resolver: resolver,
		dbRef:    dbRef,
		name:     name,
		filter:   filter,
		orderBy:  orderBy,
		pageSize: pageSize,
	}
}

var _ port.ItemReader[any] = (*PagingItemReader[any])(nil)

func (r *PagingItemReader[T]) positionKey() string {
	return r.name + ".readCount"
}

func (r *PagingItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := r.resolver.ResolveDBConnection(ctx, r.dbRef)
	if err != nil {
		return exception.NewBatchErrorf(pagingModule, err, "reader '%s': failed to resolve database '%s'", r.name, r.dbRef)
	}
	r.conn = conn
	r.page, r.pos, r.exhausted = nil, 0, false
	r.readCount, _ = ec.GetInt(r.positionKey())
	if r.readCount > 0 {
		logger.Infof("PagingItemReader '%s': resuming from offset %d.", r.name, r.readCount)
	}
	return nil
}

func (r *PagingItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.conn == nil {
		return zero, exception.NewBatchErrorf(pagingModule, nil, "reader '%s' is not open", r.name)
	}
	if r.pos >= len(r.page) {
		if r.exhausted {
			return zero, port.ErrNoMoreItems
		}
		if err := r.fetch(ctx); err != nil {
			return zero, err
		}
		if len(r.page) == 0 {
			return zero, port.ErrNoMoreItems
		}
	}
	item := r.page[r.pos]
	r.pos++
	r.readCount++
	return item, nil
}

func (r *PagingItemReader[T]) fetch(ctx context.Context) error {
	var page []T
	if err := r.conn.ExecuteQueryAdvanced(ctx, &page, r.filter, r.orderBy, r.readCount, r.pageSize); err != nil {
		return exception.NewBatchErrorf(pagingModule, err, "reader '%s': failed to query page at offset %d", r.name, r.readCount)
	}
	logger.Debugf("PagingItemReader '%s': fetched %d rows at offset %d.", r.name, len(page), r.readCount)
	r.page, r.pos = page, 0
	r.exhausted = len(page) < r.pageSize
	return nil
}

func (r *PagingItemReader[T]) GetExecutionContext(ctx context.Context) (model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	ec.Put(r.positionKey(), r.readCount)
	return ec, nil
}

// Close drops the buffered page. The connection belongs to its provider.
func (r *PagingItemReader[T]) Close(ctx context.Context) error {
	r.conn, r.page = nil, nil
	return nil
}
