package eventlog

import (
	"context"
	"sync"
)

// MemoryStore keeps events in memory. Used in tests and single-node setups.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds the event to the log.
func (m *MemoryStore) Append(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// List returns matching events, newest first.
func (m *MemoryStore) List(_ context.Context, f Filter) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if f.Topic != "" && ev.Topic != f.Topic {
			continue
		}
		if f.Entity != "" && ev.Entity != f.Entity {
			continue
		}
		out = append(out, ev)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Count returns the number of events matching the filter.
func (m *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if f.Topic != "" && ev.Topic != f.Topic {
			continue
		}
		if f.Entity != "" && ev.Entity != f.Entity {
			continue
		}
		n++
	}
	return n, nil
}

// All returns every recorded event in append order. Test helper.
func (m *MemoryStore) All() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
