package authz

import (
	"context"
	"sync"
)

// Store owns role-assignment and capability-grant records. Other components
// only read them through the Registry query surface.
type Store interface {
	Roles(ctx context.Context, subject int64) (RoleSet, error)
	SetRoles(ctx context.Context, subject int64, set RoleSet) error
	CapabilityRoles(ctx context.Context, key Capability) (RoleSet, error)
	SetCapabilityRoles(ctx context.Context, key Capability, set RoleSet) error
	IsRoot(ctx context.Context, subject int64) (bool, error)
	SetRoot(ctx context.Context, subject int64, root bool) error
	IsPublic(ctx context.Context, key Capability) (bool, error)
	SetPublic(ctx context.Context, key Capability, public bool) error
}

// MemoryStore is the in-memory Store used in tests and single-node setups.
type MemoryStore struct {
	mu           sync.Mutex
	roles        map[int64]RoleSet
	capabilities map[Capability]RoleSet
	roots        map[int64]bool
	public       map[Capability]bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:        make(map[int64]RoleSet),
		capabilities: make(map[Capability]RoleSet),
		roots:        make(map[int64]bool),
		public:       make(map[Capability]bool),
	}
}

func (m *MemoryStore) Roles(_ context.Context, subject int64) (RoleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[subject], nil
}

func (m *MemoryStore) SetRoles(_ context.Context, subject int64, set RoleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[subject] = set
	return nil
}

func (m *MemoryStore) CapabilityRoles(_ context.Context, key Capability) (RoleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capabilities[key], nil
}

func (m *MemoryStore) SetCapabilityRoles(_ context.Context, key Capability, set RoleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capabilities[key] = set
	return nil
}

func (m *MemoryStore) IsRoot(_ context.Context, subject int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roots[subject], nil
}

func (m *MemoryStore) SetRoot(_ context.Context, subject int64, root bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if root {
		m.roots[subject] = true
	} else {
		delete(m.roots, subject)
	}
	return nil
}

func (m *MemoryStore) IsPublic(_ context.Context, key Capability) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.public[key], nil
}

func (m *MemoryStore) SetPublic(_ context.Context, key Capability, public bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if public {
		m.public[key] = true
	} else {
		delete(m.public, key)
	}
	return nil
}
