// Package types contains the database collaborator interfaces the contract
// dispatcher talks to. They live apart from the database package so fakes and
// the dispatcher can depend on them without import cycles.
//
//nolint:revive // Package name "types" is intentionally generic to avoid circular
package types

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Database vendor identifiers shared across the database packages.
type Vendor = string

const (
	PostgreSQL Vendor = "postgresql"
	Oracle     Vendor = "oracle"
	// Generic covers any database/sql driver using `?` placeholders.
	Generic Vendor = "generic"
)

// Rows is a forward-only result cursor. *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// Statement is a prepared statement bound to one Handle.
type Statement interface {
	Query(ctx context.Context, args ...any) (Rows, error)
	Exec(ctx context.Context, args ...any) (sql.Result, error)
	Close() error
}

// Tx is an open transaction on a Handle. While it is open every statement
// issued through the Handle runs inside it.
type Tx interface {
	Commit() error
	Rollback() error
}

// Handle is an open session with the database. A Handle is not safe for
// concurrent use.
type Handle interface {
	// ID identifies the handle in logs and spans.
	ID() string
	Vendor() Vendor

	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Prepare(ctx context.Context, query string) (Statement, error)
	Begin(ctx context.Context, opts *sql.TxOptions) (Tx, error)

	// Close releases the session. Calling it more than once is harmless.
	Close() error
}

// HandleSource produces handles on demand.
type HandleSource interface {
	Open(ctx context.Context) (Handle, error)
}

// BatchExecutor is implemented by handles that can execute one statement for
// many parameter rows in a single round trip. The result holds one affected
// count per row, in row order.
type BatchExecutor interface {
	ExecBatch(ctx context.Context, query string, rows [][]any) ([]int64, error)
}

// Placeholder selects how bind sites are written in rendered SQL.
type Placeholder int

const (
	// PlaceholderQuestion writes `?` for every site.
	PlaceholderQuestion Placeholder = iota
	// PlaceholderDollar writes `$1, $2, ...` (PostgreSQL).
	PlaceholderDollar
	// PlaceholderColon writes `:1, :2, ...` (Oracle).
	PlaceholderColon
)

// Numbered reports whether sites carry an ordinal that may be reused.
func (p Placeholder) Numbered() bool {
	return p == PlaceholderDollar || p == PlaceholderColon
}

// PlaceholderFor picks the placeholder style for a vendor or driver name.
func PlaceholderFor(vendor string) Placeholder {
	switch strings.ToLower(vendor) {
	case PostgreSQL, "postgres", "pgx", "pg":
		return PlaceholderDollar
	case Oracle, "go-ora", "godror":
		return PlaceholderColon
	default:
		return PlaceholderQuestion
	}
}

// ErrBatchUnsupported is returned by a native batch path that cannot serve
// the underlying driver connection; callers fall back to per-row execution.
var ErrBatchUnsupported = errors.New("native batch execution not supported by driver connection")
