package store

import (
	"context"
	"sync"

	"github.com/gagentflow/gagent"
)

// MemoryStateStore is the in-memory reference StateStore/VersionedStateStore
// implementation required as the test backbone by §4.2. One instance holds state
// for every agent of a single state type S.
type MemoryStateStore[S any] struct {
	mu    sync.RWMutex
	items map[gagent.AgentId]stateEntry[S]
}

type stateEntry[S any] struct {
	state   S
	version int
}

// NewMemoryStateStore constructs an empty store.
func NewMemoryStateStore[S any]() *MemoryStateStore[S] {
	return &MemoryStateStore[S]{
		items: make(map[gagent.AgentId]stateEntry[S]),
	}
}

func (m *MemoryStateStore[S]) Load(_ context.Context, id gagent.AgentId) (S, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	return e.state, ok, nil
}

func (m *MemoryStateStore[S]) Save(_ context.Context, id gagent.AgentId, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	version := 1
	if ok {
		version = e.version + 1
	}
	m.items[id] = stateEntry[S]{state: state, version: version}
	return nil
}

func (m *MemoryStateStore[S]) Delete(_ context.Context, id gagent.AgentId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *MemoryStateStore[S]) Exists(_ context.Context, id gagent.AgentId) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[id]
	return ok, nil
}

// SaveVersion performs an optimistic-concurrency save: it fails with
// *gagent.VersionConflict if expectedVersion does not match the stored version (0
// meaning "must not already exist").
func (m *MemoryStateStore[S]) SaveVersion(_ context.Context, id gagent.AgentId, state S, expectedVersion int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[id]
	actual := 0
	if ok {
		actual = e.version
	}
	if actual != expectedVersion {
		return 0, &gagent.VersionConflict{Expected: expectedVersion, Actual: actual}
	}
	newVersion := actual + 1
	m.items[id] = stateEntry[S]{state: state, version: newVersion}
	return newVersion, nil
}

func (m *MemoryStateStore[S]) CurrentVersion(_ context.Context, id gagent.AgentId) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	if !ok {
		return 0, nil
	}
	return e.version, nil
}

var (
	_ StateStore[int]          = (*MemoryStateStore[int])(nil)
	_ VersionedStateStore[int] = (*MemoryStateStore[int])(nil)
)
