package store

import (
	"context"
	"sync"

	"github.com/gagentflow/gagent"
)

type configKey struct {
	agentType gagent.AgentType
	id        gagent.AgentId
}

// MemoryConfigStore is the in-memory reference ConfigStore implementation. It
// enforces uniqueness of (agent_type, agent_id) by construction: the composite key
// is the map key, so two agent types sharing an id never collide.
type MemoryConfigStore[C any] struct {
	mu    sync.RWMutex
	items map[configKey]C
}

// NewMemoryConfigStore constructs an empty store.
func NewMemoryConfigStore[C any]() *MemoryConfigStore[C] {
	return &MemoryConfigStore[C]{
		items: make(map[configKey]C),
	}
}

func (m *MemoryConfigStore[C]) Load(_ context.Context, agentType gagent.AgentType, id gagent.AgentId) (C, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.items[configKey{agentType, id}]
	return c, ok, nil
}

func (m *MemoryConfigStore[C]) Save(_ context.Context, agentType gagent.AgentType, id gagent.AgentId, cfg C) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[configKey{agentType, id}] = cfg
	return nil
}

func (m *MemoryConfigStore[C]) Delete(_ context.Context, agentType gagent.AgentType, id gagent.AgentId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, configKey{agentType, id})
	return nil
}

func (m *MemoryConfigStore[C]) Exists(_ context.Context, agentType gagent.AgentType, id gagent.AgentId) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[configKey{agentType, id}]
	return ok, nil
}

var _ ConfigStore[int] = (*MemoryConfigStore[int])(nil)
