// Package testing provides in-memory fakes of the database collaborators for
// exercising contracts without a database.
//
// FakeHandle implements types.Handle and types.BatchExecutor with
// expectation-based results and a call log; FakeSource hands out handles
// backed by one FakeHandle and counts opens and closes.
//
//	h := NewFakeHandle(types.PostgreSQL)
//	h.ExpectQuery("select name from something").
//	    WillReturnRows(NewRowSet("name").AddRow("Brian"))
//	h.ExpectExec("insert into something").WillReturnRowsAffected(1)
//
// SQL patterns match as substrings unless StrictSQLMatching is enabled.
package testing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gaborage/go-sqlobject/database/types"
)

// QueryCall is one Query invocation.
type QueryCall struct {
	SQL  string
	Args []any
}

// ExecCall is one Exec invocation.
type ExecCall struct {
	SQL  string
	Args []any
}

// BatchCall is one ExecBatch invocation, that is one chunk.
type BatchCall struct {
	SQL  string
	Rows [][]any
}

// QueryExpectation is the scripted response to matching queries.
type QueryExpectation struct {
	sql  string
	rows *RowSet
	err  error
}

// WillReturnRows sets the result set.
func (qe *QueryExpectation) WillReturnRows(rows *RowSet) *QueryExpectation {
	qe.rows = rows
	return qe
}

// WillReturnError makes matching queries fail.
func (qe *QueryExpectation) WillReturnError(err error) *QueryExpectation {
	qe.err = err
	return qe
}

// ExecExpectation is the scripted response to matching execs.
type ExecExpectation struct {
	sql          string
	rowsAffected int64
	err          error
}

// WillReturnRowsAffected sets the affected-row count.
func (ee *ExecExpectation) WillReturnRowsAffected(n int64) *ExecExpectation {
	ee.rowsAffected = n
	return ee
}

// WillReturnError makes matching execs fail.
func (ee *ExecExpectation) WillReturnError(err error) *ExecExpectation {
	ee.err = err
	return ee
}

// BatchExpectation is the scripted response to matching batch chunks.
// Without configuration every row reports one affected row.
type BatchExpectation struct {
	sql       string
	perRow    int64
	failChunk int
	err       error
	chunks    int
}

// WillReturnRowsAffected sets the count reported for every row.
func (be *BatchExpectation) WillReturnRowsAffected(n int64) *BatchExpectation {
	be.perRow = n
	return be
}

// WillFailOnChunk makes the chunk with the given zero-based index fail.
func (be *BatchExpectation) WillFailOnChunk(index int, err error) *BatchExpectation {
	be.failChunk = index
	be.err = err
	return be
}

// FakeHandle is an in-memory types.Handle.
type FakeHandle struct {
	id     string
	vendor string

	mu          sync.Mutex
	strictMatch bool
	queries     []*QueryExpectation
	execs       []*ExecExpectation
	batches     []*BatchExpectation
	queryLog    []QueryCall
	execLog     []ExecCall
	batchLog    []BatchCall
	prepared    []string
	commits     int
	rollbacks   int
	closeCount  int
	closed      bool
}

var (
	_ types.Handle        = (*FakeHandle)(nil)
	_ types.BatchExecutor = (*FakeHandle)(nil)
)

// NewFakeHandle creates a handle reporting the given vendor.
func NewFakeHandle(vendor string) *FakeHandle {
	return &FakeHandle{id: uuid.NewString(), vendor: vendor}
}

// StrictSQLMatching requires patterns to equal the executed SQL.
func (h *FakeHandle) StrictSQLMatching() *FakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strictMatch = true
	return h
}

// ExpectQuery registers a response for queries matching sqlPattern.
// The first matching expectation wins.
func (h *FakeHandle) ExpectQuery(sqlPattern string) *QueryExpectation {
	exp := &QueryExpectation{sql: sqlPattern}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, exp)
	return exp
}

// ExpectExec registers a response for execs matching sqlPattern.
func (h *FakeHandle) ExpectExec(sqlPattern string) *ExecExpectation {
	exp := &ExecExpectation{sql: sqlPattern}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.execs = append(h.execs, exp)
	return exp
}

// ExpectBatch registers a response for batch chunks matching sqlPattern.
func (h *FakeHandle) ExpectBatch(sqlPattern string) *BatchExpectation {
	exp := &BatchExpectation{sql: sqlPattern, perRow: 1, failChunk: -1}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, exp)
	return exp
}

func (h *FakeHandle) matchSQL(expected, actual string) bool {
	if h.strictMatch {
		return strings.TrimSpace(expected) == strings.TrimSpace(actual)
	}
	return strings.Contains(actual, expected)
}

// ID implements types.Handle.
func (h *FakeHandle) ID() string { return h.id }

// Vendor implements types.Handle.
func (h *FakeHandle) Vendor() types.Vendor { return h.vendor }

// Query implements types.Handle.
func (h *FakeHandle) Query(_ context.Context, query string, args ...any) (types.Rows, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errHandleClosed
	}
	h.queryLog = append(h.queryLog, QueryCall{SQL: query, Args: args})
	var exp *QueryExpectation
	for _, e := range h.queries {
		if h.matchSQL(e.sql, query) {
			exp = e
			break
		}
	}
	h.mu.Unlock()

	switch {
	case exp == nil:
		return nil, fmt.Errorf("unexpected query: %s (no matching expectation)", query)
	case exp.err != nil:
		return nil, exp.err
	case exp.rows == nil:
		return nil, fmt.Errorf("query expectation for %q has no rows configured (use WillReturnRows)", query)
	}
	return exp.rows.Rows()
}

// Exec implements types.Handle.
func (h *FakeHandle) Exec(_ context.Context, query string, args ...any) (sql.Result, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errHandleClosed
	}
	h.execLog = append(h.execLog, ExecCall{SQL: query, Args: args})
	var exp *ExecExpectation
	for _, e := range h.execs {
		if h.matchSQL(e.sql, query) {
			exp = e
			break
		}
	}
	h.mu.Unlock()

	switch {
	case exp == nil:
		return nil, fmt.Errorf("unexpected exec: %s (no matching expectation)", query)
	case exp.err != nil:
		return nil, exp.err
	}
	return result(exp.rowsAffected), nil
}

// Prepare implements types.Handle. The statement routes to Query and Exec.
func (h *FakeHandle) Prepare(_ context.Context, query string) (types.Statement, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHandleClosed
	}
	h.prepared = append(h.prepared, query)
	return &fakeStatement{h: h, query: query}, nil
}

// Begin implements types.Handle.
func (h *FakeHandle) Begin(context.Context, *sql.TxOptions) (types.Tx, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHandleClosed
	}
	return &fakeTx{h: h}, nil
}

// ExecBatch implements types.BatchExecutor.
func (h *FakeHandle) ExecBatch(_ context.Context, query string, rows [][]any) ([]int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHandleClosed
	}
	h.batchLog = append(h.batchLog, BatchCall{SQL: query, Rows: cloneRowValues(rows)})

	var exp *BatchExpectation
	for _, e := range h.batches {
		if h.matchSQL(e.sql, query) {
			exp = e
			break
		}
	}
	if exp == nil {
		return nil, fmt.Errorf("unexpected batch: %s (no matching expectation)", query)
	}

	chunk := exp.chunks
	exp.chunks++
	if chunk == exp.failChunk {
		return nil, exp.err
	}
	counts := make([]int64, len(rows))
	for i := range counts {
		counts[i] = exp.perRow
	}
	return counts, nil
}

// Close implements types.Handle.
func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeCount++
	h.closed = true
	return nil
}

// Closed reports whether Close was called.
func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// CloseCount returns how many times Close was called.
func (h *FakeHandle) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCount
}

// QueryLog returns every Query call, including those from prepared statements.
func (h *FakeHandle) QueryLog() []QueryCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]QueryCall{}, h.queryLog...)
}

// ExecLog returns every Exec call, including those from prepared statements.
func (h *FakeHandle) ExecLog() []ExecCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ExecCall{}, h.execLog...)
}

// BatchLog returns every chunk sent through ExecBatch.
func (h *FakeHandle) BatchLog() []BatchCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]BatchCall{}, h.batchLog...)
}

// Prepared returns the SQL of every prepared statement.
func (h *FakeHandle) Prepared() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.prepared...)
}

// Commits returns the number of committed transactions.
func (h *FakeHandle) Commits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commits
}

// Rollbacks returns the number of rolled back transactions.
func (h *FakeHandle) Rollbacks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rollbacks
}

// WithoutBatch returns a view of h that does not implement
// types.BatchExecutor, forcing callers onto per-row execution.
func (h *FakeHandle) WithoutBatch() types.Handle {
	return plainHandle{h}
}

// plainHandle hides every method of h beyond types.Handle.
type plainHandle struct {
	h types.Handle
}

func (p plainHandle) ID() string           { return p.h.ID() }
func (p plainHandle) Vendor() types.Vendor { return p.h.Vendor() }
func (p plainHandle) Query(ctx context.Context, query string, args ...any) (types.Rows, error) {
	return p.h.Query(ctx, query, args...)
}
func (p plainHandle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.h.Exec(ctx, query, args...)
}
func (p plainHandle) Prepare(ctx context.Context, query string) (types.Statement, error) {
	return p.h.Prepare(ctx, query)
}
func (p plainHandle) Begin(ctx context.Context, opts *sql.TxOptions) (types.Tx, error) {
	return p.h.Begin(ctx, opts)
}
func (p plainHandle) Close() error { return p.h.Close() }

var errHandleClosed = errors.New("fake handle is closed")

type result int64

func (r result) LastInsertId() (int64, error) { return 0, nil }
func (r result) RowsAffected() (int64, error) { return int64(r), nil }

type fakeStatement struct {
	h     *FakeHandle
	query string
}

func (s *fakeStatement) Query(ctx context.Context, args ...any) (types.Rows, error) {
	return s.h.Query(ctx, s.query, args...)
}

func (s *fakeStatement) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	return s.h.Exec(ctx, s.query, args...)
}

func (s *fakeStatement) Close() error { return nil }

type fakeTx struct {
	h    *FakeHandle
	done bool
}

func (t *fakeTx) Commit() error {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.h.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.h.rollbacks++
	return nil
}
