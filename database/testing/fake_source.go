package testing

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gaborage/go-sqlobject/database/types"
)

// FakeSource is a types.HandleSource whose handles share one FakeHandle for
// expectations and call logs. Each opened handle closes independently, so
// Opens and Closes can be compared to prove every handle was released.
type FakeSource struct {
	// Backend receives every statement issued through opened handles.
	Backend *FakeHandle
	// OpenErr, when set, makes Open fail.
	OpenErr error
	// NoBatch hides types.BatchExecutor from opened handles.
	NoBatch bool

	mu     sync.Mutex
	opens  int
	closes int
}

var _ types.HandleSource = (*FakeSource)(nil)

// NewFakeSource creates a source for vendor with a fresh backend.
func NewFakeSource(vendor string) *FakeSource {
	return &FakeSource{Backend: NewFakeHandle(vendor)}
}

// Open implements types.HandleSource.
func (s *FakeSource) Open(context.Context) (types.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.opens++
	h := &sessionHandle{FakeHandle: s.Backend, src: s, id: uuid.NewString()}
	if s.NoBatch {
		return h.withoutBatch(), nil
	}
	return h, nil
}

// Opens returns how many handles were opened.
func (s *FakeSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Closes returns how many opened handles were closed.
func (s *FakeSource) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Outstanding returns the number of handles opened but not yet closed.
func (s *FakeSource) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens - s.closes
}

// sessionHandle forwards statements to the shared backend but owns its
// close state.
type sessionHandle struct {
	*FakeHandle
	src *FakeSource
	id  string

	once sync.Once
}

func (h *sessionHandle) ID() string { return h.id }

func (h *sessionHandle) Close() error {
	h.once.Do(func() {
		h.src.mu.Lock()
		h.src.closes++
		h.src.mu.Unlock()
	})
	return nil
}

func (h *sessionHandle) withoutBatch() types.Handle {
	return plainHandle{h}
}
