package stream

import (
	"sync"

	"github.com/gagentflow/gagent"
)

// Registry owns one Stream per agent, created lazily. It mirrors the nugget
// events bus's map-of-channels-with-reverse-lookup shape, generalized to
// multiple independent streams instead of one shared bus.
type Registry struct {
	cfg Config

	mu      sync.RWMutex
	streams map[gagent.AgentId]*Stream
}

// NewRegistry constructs a Registry that creates streams with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, streams: make(map[gagent.AgentId]*Stream)}
}

// GetOrCreate returns the stream for id, creating it if absent. Idempotent.
func (r *Registry) GetOrCreate(id gagent.AgentId) *Stream {
	r.mu.RLock()
	s, ok := r.streams[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[id]; ok {
		return s
	}
	s = New(r.cfg)
	r.streams[id] = s
	return s
}

// Get returns the stream for id without creating one.
func (r *Registry) Get(id gagent.AgentId) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// Remove disposes of and forgets the stream for id, if any.
func (r *Registry) Remove(id gagent.AgentId) {
	r.mu.Lock()
	s, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len reports how many streams are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
