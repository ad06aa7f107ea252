package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/gaborage/go-sqlobject/database/types"
)

// MockTx provides a testify-based mock implementation of types.Tx.
//
// Example usage:
//
//	tx := &mocks.MockTx{}
//	tx.On("Commit").Return(nil)
//	h.On("Begin", mock.Anything, (*sql.TxOptions)(nil)).Return(tx, nil)
type MockTx struct {
	mock.Mock
}

var _ types.Tx = (*MockTx)(nil)

// Commit implements types.Tx
func (m *MockTx) Commit() error {
	return m.Called().Error(0)
}

// Rollback implements types.Tx
func (m *MockTx) Rollback() error {
	return m.Called().Error(0)
}
