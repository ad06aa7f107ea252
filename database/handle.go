package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gaborage/go-sqlobject/database/internal/tracking"
	"github.com/gaborage/go-sqlobject/database/types"
)

// ErrHandleClosed is returned by every operation on a closed Handle.
var ErrHandleClosed = errors.New("database: handle is closed")

// nativeBatch sends a chunk of parameter rows in one round trip on conn.
type nativeBatch func(ctx context.Context, conn *sql.Conn, query string, rows [][]any) ([]int64, error)

// executor is the part of *sql.Conn and *sql.Tx a Handle issues statements through.
type executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Handle is a session pinned to one pooled connection. Statements run on that
// connection, or inside its open transaction when Begin was called.
type Handle struct {
	id      string
	conn    *sql.Conn
	vendor  string
	tc      *tracking.Context
	batch   nativeBatch
	onClose func(*Handle)

	mu     sync.Mutex
	tx     *sql.Tx
	closed bool
}

var (
	_ types.Handle        = (*Handle)(nil)
	_ types.BatchExecutor = (*Handle)(nil)
)

// ID returns the handle identifier used in logs and spans.
func (h *Handle) ID() string { return h.id }

// Vendor returns the database vendor of the owning source.
func (h *Handle) Vendor() types.Vendor { return h.vendor }

func (h *Handle) executor() (executor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.tx != nil {
		return h.tx, nil
	}
	return h.conn, nil
}

// Query runs a statement returning rows.
func (h *Handle) Query(ctx context.Context, query string, args ...any) (types.Rows, error) {
	ex, err := h.executor()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := ex.QueryContext(ctx, query, args...)
	tracking.TrackDBOperation(ctx, h.tc, query, args, start, 0, err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Exec runs a statement returning no rows.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ex, err := h.executor()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	result, err := ex.ExecContext(ctx, query, args...)
	tracking.TrackDBOperation(ctx, h.tc, query, args, start, tracking.RowsAffected(result, err), err)
	return result, err
}

// Execute runs an ad-hoc statement and returns its affected-row count.
func (h *Handle) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := h.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Prepare creates a statement executed repeatedly on this handle.
func (h *Handle) Prepare(ctx context.Context, query string) (types.Statement, error) {
	ex, err := h.executor()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	stmt, err := ex.PrepareContext(ctx, query)
	tracking.TrackDBOperation(ctx, h.tc, "PREPARE: "+query, nil, start, 0, err)
	if err != nil {
		return nil, err
	}
	return &statement{stmt: stmt, query: query, tc: h.tc}, nil
}

// Begin opens a transaction; until it ends every statement on h joins it.
func (h *Handle) Begin(ctx context.Context, opts *sql.TxOptions) (types.Tx, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.tx != nil {
		return nil, errors.New("database: transaction already open on handle")
	}

	start := time.Now()
	tx, err := h.conn.BeginTx(ctx, opts)
	tracking.TrackDBOperation(ctx, h.tc, "BEGIN", nil, start, 0, err)
	if err != nil {
		return nil, err
	}
	h.tx = tx
	return &transaction{h: h, tx: tx}, nil
}

// InTransaction runs fn inside a transaction on h, committing when fn
// succeeds and rolling back otherwise.
func InTransaction(ctx context.Context, h types.Handle, fn func(types.Handle) error) (err error) {
	tx, err := h.Begin(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(h); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ExecBatch executes query once per row. A pgx connection sends the chunk in
// one round trip; other drivers get one prepared statement executed per row.
func (h *Handle) ExecBatch(ctx context.Context, query string, rows [][]any) ([]int64, error) {
	if len(rows) == 0 {
		return []int64{}, nil
	}
	if _, err := h.executor(); err != nil {
		return nil, err
	}

	if h.batch != nil {
		start := time.Now()
		counts, err := h.batch(ctx, h.conn, query, rows)
		if !errors.Is(err, types.ErrBatchUnsupported) {
			tracking.TrackBatch(ctx, h.tc, query, len(rows), start, sum(counts), err)
			return counts, err
		}
	}
	return h.execEachRow(ctx, query, rows)
}

func (h *Handle) execEachRow(ctx context.Context, query string, rows [][]any) ([]int64, error) {
	stmt, err := h.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	counts := make([]int64, 0, len(rows))
	for i, args := range rows {
		result, err := stmt.Exec(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("batch row %d: %w", i, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("batch row %d: %w", i, err)
		}
		counts = append(counts, n)
	}
	return counts, nil
}

// Close rolls back an open transaction and returns the connection to the
// pool. Later calls are no-ops.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	tx := h.tx
	h.tx = nil
	h.mu.Unlock()

	var errs []error
	if tx != nil {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("rollback open transaction: %w", err))
		}
	}
	if err := h.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if h.onClose != nil {
		h.onClose(h)
	}
	return errors.Join(errs...)
}

func (h *Handle) endTx(tx *sql.Tx) {
	h.mu.Lock()
	if h.tx == tx {
		h.tx = nil
	}
	h.mu.Unlock()
}

func sum(counts []int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}

type statement struct {
	stmt  *sql.Stmt
	query string
	tc    *tracking.Context
}

func (s *statement) Query(ctx context.Context, args ...any) (types.Rows, error) {
	start := time.Now()
	rows, err := s.stmt.QueryContext(ctx, args...)
	tracking.TrackDBOperation(ctx, s.tc, s.query, args, start, 0, err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *statement) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := s.stmt.ExecContext(ctx, args...)
	tracking.TrackDBOperation(ctx, s.tc, s.query, args, start, tracking.RowsAffected(result, err), err)
	return result, err
}

func (s *statement) Close() error {
	return s.stmt.Close()
}

type transaction struct {
	h  *Handle
	tx *sql.Tx
}

func (t *transaction) Commit() error {
	defer t.h.endTx(t.tx)
	start := time.Now()
	err := t.tx.Commit()
	tracking.TrackDBOperation(context.Background(), t.h.tc, "COMMIT", nil, start, 0, err)
	return err
}

func (t *transaction) Rollback() error {
	defer t.h.endTx(t.tx)
	start := time.Now()
	err := t.tx.Rollback()
	tracking.TrackDBOperation(context.Background(), t.h.tc, "ROLLBACK", nil, start, 0, err)
	return err
}
