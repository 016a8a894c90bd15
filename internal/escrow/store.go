package escrow

import (
	"context"
	"sync"

	"github.com/workmesh/workmesh/internal/shared"
)

// Store persists escrow operations, pending approvals, and the manual
// approval switch.
type Store interface {
	Get(ctx context.Context, id string) (Operation, error)
	Put(ctx context.Context, op Operation) error
	List(ctx context.Context) ([]Operation, error)

	Approved(ctx context.Context, id string) (bool, error)
	SetApproved(ctx context.Context, id string, approved bool) error

	ServiceMode(ctx context.Context) (bool, error)
	SetServiceMode(ctx context.Context, enabled bool) error
}

type MemoryStore struct {
	mu          sync.Mutex
	ops         map[string]Operation
	order       []string
	approved    map[string]bool
	serviceMode bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops:      make(map[string]Operation),
		approved: make(map[string]bool),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return Operation{}, shared.ErrNotFound
	}
	return op, nil
}

func (s *MemoryStore) Put(_ context.Context, op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; !ok {
		s.order = append(s.order, op.ID)
	}
	s.ops[op.ID] = op
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.ops[id])
	}
	return out, nil
}

func (s *MemoryStore) Approved(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approved[id], nil
}

func (s *MemoryStore) SetApproved(_ context.Context, id string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if approved {
		s.approved[id] = true
	} else {
		delete(s.approved, id)
	}
	return nil
}

func (s *MemoryStore) ServiceMode(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceMode, nil
}

func (s *MemoryStore) SetServiceMode(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceMode = enabled
	return nil
}
