package sqlobject

import (
	"context"
	"errors"
	"iter"
	"reflect"

	"github.com/gaborage/go-sqlobject/database/types"
)

// cursor is the untyped state behind an Iterator: an open result set, the
// mapper for its rows and the release hook of the handle that produced it.
type cursor struct {
	method       string
	rows         types.Rows
	mapper       RowMapper
	elem         reflect.Type
	maxFieldSize int
	// release runs after the rows close; on-demand contracts close their
	// handle here.
	release func() error

	cur    any
	err    error
	closed bool
}

func (c *cursor) next() bool {
	if c.closed {
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = executionError(c.method, err, "reading rows")
		}
		c.fail(c.close())
		return false
	}
	v, err := c.mapRow()
	if err != nil {
		c.err = err
		_ = c.close()
		return false
	}
	c.cur = v
	return true
}

func (c *cursor) mapRow() (any, error) {
	v, err := c.mapper.MapRow(c.rows)
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, withMethod(err, c.method)
		}
		return nil, newError(KindResultShape, c.method, err, "cannot map row to %s", c.elem)
	}
	if v == nil {
		switch c.elem.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			return nil, nil
		}
		return nil, newError(KindResultShape, c.method, nil, "mapper returned nil for %s", c.elem)
	}
	if t := reflect.TypeOf(v); !t.AssignableTo(c.elem) {
		return nil, newError(KindResultShape, c.method, nil, "mapper returned %s, want %s", t, c.elem)
	}
	return limitFieldSize(v, c.maxFieldSize), nil
}

// fail records err unless an earlier error is already recorded.
func (c *cursor) fail(err error) {
	if err != nil && c.err == nil {
		c.err = err
	}
}

func (c *cursor) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cur = nil
	var err error
	if cerr := c.rows.Close(); cerr != nil {
		err = executionError(c.method, cerr, "closing rows")
	}
	if c.release != nil {
		if rerr := c.release(); rerr != nil && err == nil {
			err = executionError(c.method, rerr, "releasing handle")
		}
	}
	return err
}

// first maps the first row and closes the cursor. found is false for an
// empty result.
func (c *cursor) first() (v any, found bool, err error) {
	defer func() {
		if cerr := c.close(); err == nil {
			err = cerr
		}
	}()
	if !c.next() {
		return nil, false, c.err
	}
	return c.cur, true, nil
}

// all maps every row and closes the cursor.
func (c *cursor) all() ([]any, error) {
	var out []any
	for c.next() {
		out = append(out, c.cur)
	}
	if c.err != nil {
		return nil, c.err
	}
	return out, c.close()
}

func valueAs[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

// Iterator is a lazy, forward-only sequence of mapped rows. It holds an open
// cursor, and for on-demand contracts an open handle, until it is exhausted
// or closed. Close must be called when iteration stops early. An Iterator is
// not safe for concurrent use.
type Iterator[T any] struct {
	c *cursor
}

// Next advances to the next row. It returns false at the end of the rows or
// on error; the iterator is closed in both cases.
func (it *Iterator[T]) Next() bool {
	if it == nil || it.c == nil {
		return false
	}
	return it.c.next()
}

// Value returns the current element.
func (it *Iterator[T]) Value() T {
	if it == nil || it.c == nil {
		var zero T
		return zero
	}
	return valueAs[T](it.c.cur)
}

// Err returns the first error met while iterating.
func (it *Iterator[T]) Err() error {
	if it == nil || it.c == nil {
		return nil
	}
	return it.c.err
}

// Close releases the cursor. It is safe to call more than once.
func (it *Iterator[T]) Close() error {
	if it == nil || it.c == nil {
		return nil
	}
	return it.c.close()
}

// All returns the remaining elements as a sequence that closes the iterator
// when the loop ends. Check Err afterwards.
func (it *Iterator[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Value()) {
				return
			}
		}
	}
}

// drain reads the remaining elements so an iterator can feed a batch.
func (it *Iterator[T]) drain() ([]any, error) {
	if it == nil || it.c == nil {
		return []any{}, nil
	}
	values, err := it.c.all()
	if values == nil && err == nil {
		values = []any{}
	}
	return values, err
}

func (it *Iterator[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }

func (it *Iterator[T]) attach(c *cursor) { it.c = c }

// iteratorResult is implemented by every *Iterator[T].
type iteratorResult interface {
	elemType() reflect.Type
	attach(c *cursor)
}

// deferred is a bound, not yet executed query.
type deferred struct {
	stmt *Statement
	run  func(ctx context.Context, stmt *Statement, maxFieldSize int) (*cursor, error)
}

// Query is a bound query that has not executed yet. Configure it, then run
// it with First, FirstOrNil, List or Iterate; each run executes the statement
// again.
type Query[T any] struct {
	d            *deferred
	maxFieldSize int
	sizeSet      bool
}

// SetMaxFieldSize limits string and []byte values of the results to n bytes,
// replacing any limit set on the method. Zero removes the limit.
func (q *Query[T]) SetMaxFieldSize(n int) *Query[T] {
	q.maxFieldSize = max(n, 0)
	q.sizeSet = true
	return q
}

// SQL returns the template text of the query.
func (q *Query[T]) SQL() string {
	return q.d.stmt.template.Text()
}

func (q *Query[T]) open(ctx context.Context) (*cursor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	size := q.d.stmt.maxFieldSize
	if q.sizeSet {
		size = q.maxFieldSize
	}
	return q.d.run(ctx, q.d.stmt, size)
}

// First returns the first row. An empty result is an *Error of
// KindResultShape.
func (q *Query[T]) First(ctx context.Context) (T, error) {
	var zero T
	c, err := q.open(ctx)
	if err != nil {
		return zero, err
	}
	v, found, err := c.first()
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, newError(KindResultShape, q.d.stmt.method, nil, "query returned no rows")
	}
	return valueAs[T](v), nil
}

// FirstOrNil returns the first row, or nil for an empty result.
func (q *Query[T]) FirstOrNil(ctx context.Context) (*T, error) {
	c, err := q.open(ctx)
	if err != nil {
		return nil, err
	}
	v, found, err := c.first()
	if err != nil || !found {
		return nil, err
	}
	out := valueAs[T](v)
	return &out, nil
}

// List returns every row in order.
func (q *Query[T]) List(ctx context.Context) ([]T, error) {
	c, err := q.open(ctx)
	if err != nil {
		return nil, err
	}
	values, err := c.all()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = valueAs[T](v)
	}
	return out, nil
}

// Iterate executes the query and returns a lazy iterator over its rows.
func (q *Query[T]) Iterate(ctx context.Context) (*Iterator[T], error) {
	c, err := q.open(ctx)
	if err != nil {
		return nil, err
	}
	return &Iterator[T]{c: c}, nil
}

func (q *Query[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }

func (q *Query[T]) attach(d *deferred) { q.d = d }

// queryResult is implemented by every *Query[T].
type queryResult interface {
	elemType() reflect.Type
	attach(d *deferred)
}
