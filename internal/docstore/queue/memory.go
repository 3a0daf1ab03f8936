package queue

import (
	"sync"
)

// MemoryBacking is a non-durable Backing for tests and offline tooling.
type MemoryBacking struct {
	mu       sync.Mutex
	items    []Batch
	inFlight Batch
}

// NewMemoryBacking creates an empty in-memory queue.
func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{}
}

// Append implements Backing.
func (m *MemoryBacking) Append(batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, batch)
	return nil
}

// PopToInFlight implements Backing.
func (m *MemoryBacking) PopToInFlight() (Batch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil, false, nil
	}
	b := m.items[0]
	m.items = m.items[1:]
	m.inFlight = b
	return b, true, nil
}

// ClearInFlight implements Backing.
func (m *MemoryBacking) ClearInFlight() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = nil
	return nil
}

// InFlight implements Backing.
func (m *MemoryBacking) InFlight() (Batch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight, m.inFlight != nil, nil
}

// RequeueInFlight implements Backing.
func (m *MemoryBacking) RequeueInFlight() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight == nil {
		return nil
	}
	m.items = append([]Batch{m.inFlight}, m.items...)
	m.inFlight = nil
	return nil
}

// Len implements Backing.
func (m *MemoryBacking) Len() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}
