package mocks

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	"github.com/gaborage/go-sqlobject/database/types"
)

// MockStatement provides a testify-based mock implementation of
// types.Statement. Arguments are recorded as one slice.
//
// Example usage:
//
//	stmt := &mocks.MockStatement{}
//	stmt.On("Exec", mock.Anything, []any{1}).Return(mocks.Result(1), nil)
//	stmt.On("Close").Return(nil)
type MockStatement struct {
	mock.Mock
}

var _ types.Statement = (*MockStatement)(nil)

// Query implements types.Statement
func (m *MockStatement) Query(ctx context.Context, args ...any) (types.Rows, error) {
	arguments := m.Called(ctx, args)
	if arguments.Get(0) == nil {
		return nil, arguments.Error(1)
	}
	return arguments.Get(0).(types.Rows), arguments.Error(1)
}

// Exec implements types.Statement
func (m *MockStatement) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	arguments := m.Called(ctx, args)
	if arguments.Get(0) == nil {
		return nil, arguments.Error(1)
	}
	return arguments.Get(0).(sql.Result), arguments.Error(1)
}

// Close implements types.Statement
func (m *MockStatement) Close() error {
	return m.Called().Error(0)
}
