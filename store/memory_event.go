package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagentflow/gagent"
)

// MemoryEventStore is the in-memory reference EventStore implementation. Appends
// are serialized per agent_id via a per-agent mutex so that concurrent producers
// targeting different agents never contend, matching the serializable-append
// requirement in §4.2 without a single global lock.
type MemoryEventStore struct {
	mu    sync.Mutex
	logs  map[gagent.AgentId]*agentLog
}

type agentLog struct {
	mu     sync.Mutex
	events []StateLogEvent
}

// NewMemoryEventStore constructs an empty store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		logs: make(map[gagent.AgentId]*agentLog),
	}
}

func (s *MemoryEventStore) logFor(agentID gagent.AgentId) *agentLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[agentID]
	if !ok {
		l = &agentLog{}
		s.logs[agentID] = l
	}
	return l
}

func (s *MemoryEventStore) Append(_ context.Context, agentID gagent.AgentId, event StateLogEvent) error {
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()

	expected := len(l.events) + 1
	if event.Version != expected {
		return fmt.Errorf("%w: expected version %d, got %d", ErrInvalidInput, expected, event.Version)
	}
	l.events = append(l.events, event)
	return nil
}

func (s *MemoryEventStore) AppendBatch(ctx context.Context, agentID gagent.AgentId, events []StateLogEvent) error {
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()

	next := len(l.events) + 1
	for i, e := range events {
		if e.Version != next+i {
			return fmt.Errorf("%w: non-dense batch at offset %d", ErrInvalidInput, i)
		}
	}
	l.events = append(l.events, events...)
	return nil
}

func (s *MemoryEventStore) Read(_ context.Context, agentID gagent.AgentId, fromVersion, toVersion int) ([]StateLogEvent, error) {
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]StateLogEvent, 0, len(l.events))
	for _, e := range l.events {
		if fromVersion > 0 && e.Version < fromVersion {
			continue
		}
		if toVersion > 0 && e.Version > toVersion {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *MemoryEventStore) LatestVersion(_ context.Context, agentID gagent.AgentId) (int, error) {
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events), nil
}

func (s *MemoryEventStore) Clear(_ context.Context, agentID gagent.AgentId) error {
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	return nil
}

var _ EventStore = (*MemoryEventStore)(nil)
