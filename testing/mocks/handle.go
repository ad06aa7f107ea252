// Package mocks provides testify-based mocks of the database collaborator
// interfaces, for tests that need to script a single call precisely or
// inject failures the in-memory fakes do not model.
package mocks

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	"github.com/gaborage/go-sqlobject/database/types"
)

// MockHandle provides a testify-based mock implementation of types.Handle.
//
// Example usage:
//
//	h := &mocks.MockHandle{}
//	h.On("ID").Return("h-1")
//	h.On("Vendor").Return(types.Generic)
//	h.On("Exec", mock.Anything, "delete from something where id = ?", 1).Return(result, nil)
//	h.On("Close").Return(nil).Once()
type MockHandle struct {
	mock.Mock
}

var _ types.Handle = (*MockHandle)(nil)

// ID implements types.Handle
func (m *MockHandle) ID() string {
	return m.Called().String(0)
}

// Vendor implements types.Handle
func (m *MockHandle) Vendor() types.Vendor {
	return m.Called().String(0)
}

// Query implements types.Handle
func (m *MockHandle) Query(ctx context.Context, query string, args ...any) (types.Rows, error) {
	callArgs := append([]any{ctx, query}, args...)
	arguments := m.Called(callArgs...)
	if arguments.Get(0) == nil {
		return nil, arguments.Error(1)
	}
	return arguments.Get(0).(types.Rows), arguments.Error(1)
}

// Exec implements types.Handle
func (m *MockHandle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	callArgs := append([]any{ctx, query}, args...)
	arguments := m.Called(callArgs...)
	if arguments.Get(0) == nil {
		return nil, arguments.Error(1)
	}
	return arguments.Get(0).(sql.Result), arguments.Error(1)
}

// Prepare implements types.Handle
func (m *MockHandle) Prepare(ctx context.Context, query string) (types.Statement, error) {
	arguments := m.Called(ctx, query)
	if arguments.Get(0) == nil {
		return nil, arguments.Error(1)
	}
	return arguments.Get(0).(types.Statement), arguments.Error(1)
}

// Begin implements types.Handle
func (m *MockHandle) Begin(ctx context.Context, opts *sql.TxOptions) (types.Tx, error) {
	arguments := m.Called(ctx, opts)
	if arguments.Get(0) == nil {
		return nil, arguments.Error(1)
	}
	return arguments.Get(0).(types.Tx), arguments.Error(1)
}

// Close implements types.Handle
func (m *MockHandle) Close() error {
	return m.Called().Error(0)
}

// MockHandleSource provides a testify-based mock implementation of
// types.HandleSource.
type MockHandleSource struct {
	mock.Mock
}

var _ types.HandleSource = (*MockHandleSource)(nil)

// Open implements types.HandleSource
func (m *MockHandleSource) Open(ctx context.Context) (types.Handle, error) {
	arguments := m.Called(ctx)
	if arguments.Get(0) == nil {
		return nil, arguments.Error(1)
	}
	return arguments.Get(0).(types.Handle), arguments.Error(1)
}

// Result is a sql.Result reporting a fixed affected-row count.
type Result int64

// LastInsertId implements sql.Result
func (r Result) LastInsertId() (int64, error) { return 0, nil }

// RowsAffected implements sql.Result
func (r Result) RowsAffected() (int64, error) { return int64(r), nil }
