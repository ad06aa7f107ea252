package sqlobject

import (
	"context"
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"

	"github.com/gaborage/go-sqlobject/database/types"
)

var valuerType = reflect.TypeFor[driver.Valuer]()

// batch runs a batch method: one row per element of the iterable arguments,
// scalars repeated on every row, rows sent in chunks.
func (in *instance) batch(ctx context.Context, bm *boundMethod, args []any) (counts []int64, err error) {
	rows, err := bm.planBatch(args)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return []int64{}, nil
	}

	// Bind and customize every row before touching the database.
	stmts := make([]*Statement, len(rows))
	for r, row := range rows {
		stmt := bm.baseStatement()
		if err := bm.bind(stmt, row); err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		if err := applyCustomizers(stmt, bm.chain); err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		stmts[r] = stmt
	}

	size := stmts[0].ChunkSize()
	if size <= 0 {
		size = bm.defaultChunk
	}
	if size <= 0 || size > len(rows) {
		size = len(rows)
	}

	h, release, err := in.handles.acquire(ctx, bm.name)
	if err != nil {
		return nil, err
	}
	defer func() { err = in.finish(bm, stmts[0], err, release) }()

	style := types.PlaceholderFor(h.Vendor())
	var query string
	params := make([][]any, len(stmts))
	for r, stmt := range stmts {
		q, a, err := stmt.Render(style)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		if r == 0 {
			query = q
		}
		params[r] = a
	}

	start := time.Now()
	exec := chunkExecutor(h)
	chunks := (len(params) + size - 1) / size
	counts = make([]int64, 0, len(params))
	for c := 0; c < chunks; c++ {
		from := c * size
		to := min(from+size, len(params))
		got, err := exec(ctx, query, params[from:to])
		if err != nil {
			return nil, executionError(bm.name, err, "chunk %d of %d (rows %d-%d)", c+1, chunks, from, to-1)
		}
		if len(got) != to-from {
			return nil, newError(KindExecution, bm.name, nil, "chunk %d of %d reported %d counts for %d rows",
				c+1, chunks, len(got), to-from)
		}
		counts = append(counts, got...)
	}

	in.log.Debug().
		Str("method", bm.name).
		Int("rows", len(params)).
		Int("chunks", chunks).
		Int("chunk_size", size).
		Dur("duration", time.Since(start)).
		Msg("batch executed")
	return counts, nil
}

// planBatch expands args into rows. Every iterable argument must have the
// same length; a mismatch fails before any row is bound.
func (bm *boundMethod) planBatch(args []any) ([][]any, error) {
	n, lead := -1, -1
	columns := make([][]any, len(args))
	for i, a := range args {
		values, ok, err := iterableValues(a)
		if err != nil {
			return nil, newError(KindBinding, bm.name, err, "reading parameter %d", i)
		}
		if !ok {
			continue
		}
		columns[i] = values
		switch {
		case n < 0:
			n, lead = len(values), i
		case len(values) != n:
			return nil, bindingError(bm.name, "batch arguments differ in length: parameter %d has %d rows, parameter %d has %d",
				lead, n, i, len(values))
		}
	}
	if n < 0 {
		return nil, bindingError(bm.name, "batch method needs at least one slice, array or iterator argument")
	}

	rows := make([][]any, n)
	for r := range rows {
		row := make([]any, len(args))
		for i, a := range args {
			if columns[i] != nil {
				row[i] = columns[i][r]
			} else {
				row[i] = a
			}
		}
		rows[r] = row
	}
	return rows, nil
}

// drainer is implemented by *Iterator[T].
type drainer interface {
	drain() ([]any, error)
}

// iterableValues returns the elements of a batch argument. Slices, arrays,
// iter.Seq functions and iterators are iterable; []byte, byte arrays and
// driver.Valuer types are scalars.
func iterableValues(a any) ([]any, bool, error) {
	if d, ok := a.(drainer); ok {
		values, err := d.drain()
		return values, true, err
	}
	v := reflect.ValueOf(a)
	if !v.IsValid() || v.Type().Implements(valuerType) {
		return nil, false, nil
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false, nil
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = v.Index(i).Interface()
		}
		return out, true, nil
	case reflect.Func:
		if !isSeq(v.Type()) || v.IsNil() {
			return nil, false, nil
		}
		var out []any
		yield := reflect.MakeFunc(v.Type().In(0), func(args []reflect.Value) []reflect.Value {
			out = append(out, args[0].Interface())
			return []reflect.Value{reflect.ValueOf(true)}
		})
		v.Call([]reflect.Value{yield})
		if out == nil {
			out = []any{}
		}
		return out, true, nil
	}
	return nil, false, nil
}

// isSeq reports whether t has the shape of iter.Seq[V].
func isSeq(t reflect.Type) bool {
	if t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	y := t.In(0)
	return y.Kind() == reflect.Func && y.NumIn() == 1 && y.NumOut() == 1 && y.Out(0).Kind() == reflect.Bool
}

type chunkFunc func(ctx context.Context, query string, rows [][]any) ([]int64, error)

// chunkExecutor sends a chunk through the handle's native batch support, or
// through one prepared statement executed per row.
func chunkExecutor(h types.Handle) chunkFunc {
	if be, ok := h.(types.BatchExecutor); ok {
		return be.ExecBatch
	}
	return func(ctx context.Context, query string, rows [][]any) (counts []int64, err error) {
		stmt, err := h.Prepare(ctx, query)
		if err != nil {
			return nil, err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		counts = make([]int64, len(rows))
		for i, row := range rows {
			res, err := stmt.Exec(ctx, row...)
			if err != nil {
				return nil, fmt.Errorf("batch row %d: %w", i, err)
			}
			if counts[i], err = res.RowsAffected(); err != nil {
				return nil, err
			}
		}
		return counts, nil
	}
}
