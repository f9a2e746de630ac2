// Package handler implements the compile-time-registered handler table (C5):
// for each agent type, an ordered list of typed handlers per payload type plus an
// all-events catch list, built once via explicit generic registration rather than
// reflection-based discovery.
package handler

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/gagentflow/gagent"
)

// Func is a typed handler bound to payload type E.
type Func[E any] func(ctx context.Context, env gagent.EventEnvelope, payload E) error

// entry is the type-erased form stored in the registry so that handlers bound to
// different payload types can share one ordered slice per type tag.
type entry struct {
	priority  int
	allowSelf bool
	invoke    func(ctx context.Context, env gagent.EventEnvelope) error
}

// Registry holds the handler table for a single agent type: one ordered entry
// list per concrete payload type, plus an all-events catch list. Resolve merges
// the two and orders them by priority.
type Registry struct {
	mu      sync.RWMutex
	byType  map[reflect.Type][]entry
	catchAll []entry
}

// NewRegistry constructs an empty handler table.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[reflect.Type][]entry)}
}

// RegisterHandler binds fn to payload type E in reg, at the given priority
// (lower runs first) and self-origination policy. Call during agent-type setup,
// before any envelope is dispatched; Registry is read-heavy thereafter.
func RegisterHandler[E any](reg *Registry, priority int, allowSelf bool, fn Func[E]) {
	var zero E
	t := reflect.TypeOf(zero)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.byType[t] = append(reg.byType[t], entry{
		priority:  priority,
		allowSelf: allowSelf,
		invoke: func(ctx context.Context, env gagent.EventEnvelope) error {
			payload, ok := env.Payload.(E)
			if !ok {
				return nil
			}
			return fn(ctx, env, payload)
		},
	})
	sortByPriority(reg.byType[t])
}

// RegisterCatchAll binds fn to run for every envelope regardless of payload type,
// ordered by priority together with the type-specific handlers for that envelope.
func RegisterCatchAll(reg *Registry, priority int, allowSelf bool, fn func(ctx context.Context, env gagent.EventEnvelope) error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.catchAll = append(reg.catchAll, entry{priority: priority, allowSelf: allowSelf, invoke: fn})
	sortByPriority(reg.catchAll)
}

func sortByPriority(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority < entries[j].priority })
}

// Resolve returns, in ascending-priority order, every handler that should run
// for env: the type-specific list for env.Payload's concrete type merged with
// the catch-all list and stably sorted by priority — each filtered by
// self-origination when env was published by the owning agent itself. A
// catch-all registered at a lower priority than a typed handler runs first.
func (reg *Registry) Resolve(env gagent.EventEnvelope, self gagent.AgentId, selfOriginated bool) []func(ctx context.Context) error {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	t := reflect.TypeOf(env.Payload)
	merged := make([]entry, 0, len(reg.byType[t])+len(reg.catchAll))
	merged = append(merged, reg.byType[t]...)
	merged = append(merged, reg.catchAll...)
	sortByPriority(merged)

	out := make([]func(ctx context.Context) error, 0, len(merged))
	for _, e := range merged {
		if selfOriginated && !e.allowSelf {
			continue
		}
		e := e
		out = append(out, func(ctx context.Context) error { return e.invoke(ctx, env) })
	}
	return out
}

// HasHandlersFor reports whether any handler (typed or catch-all) could run for
// payload's concrete type, ignoring self-origination.
func (reg *Registry) HasHandlersFor(payload any) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	t := reflect.TypeOf(payload)
	return len(reg.byType[t]) > 0 || len(reg.catchAll) > 0
}
