// Package kernel implements the GAgent base (C6): lifecycle, hierarchy, typed
// publish/receive, and state/config access. It is the user-facing core that
// agent-type authors embed; the Actor Wrapper (C7) is what external code
// actually holds and serializes calls through.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/dedup"
	"github.com/gagentflow/gagent/handler"
	"github.com/gagentflow/gagent/store"
	"github.com/gagentflow/gagent/stream"
	"github.com/gagentflow/gagent/telemetry"
)

// Hooks are the user-overridable lifecycle callbacks. NoopHooks satisfies this
// with do-nothing implementations for agent types that need neither.
type Hooks interface {
	OnActivate(ctx context.Context) error
	OnDeactivate(ctx context.Context) error
}

// NoopHooks is the zero-effort Hooks implementation.
type NoopHooks struct{}

func (NoopHooks) OnActivate(context.Context) error   { return nil }
func (NoopHooks) OnDeactivate(context.Context) error { return nil }

// Deps bundles the collaborators a Kernel needs; the factory (C9) fills it
// from its explicit Dependencies struct.
type Deps[S any, C any] struct {
	Logger      *zap.Logger
	StateStore  store.StateStore[S]
	ConfigStore store.ConfigStore[C] // optional
	EventStore  store.EventStore     // optional; present only for event-sourced agents
	Dedup       *dedup.Deduplicator
	Streams     *stream.Registry
	Handlers    *handler.Registry
	Hooks       Hooks // optional; defaults to NoopHooks
	Telemetry   *telemetry.Recorder // optional; nil disables metrics/tracing

	// Reduce folds one replayed StateLogEvent into state, used only when
	// EventStore is set and event sourcing is enabled for this agent type.
	Reduce func(state S, event store.StateLogEvent) S
}

// Kernel is the generic agent core, parameterized by its state type S and
// config type C.
type Kernel[S any, C any] struct {
	id        gagent.AgentId
	agentType gagent.AgentType
	deps      Deps[S, C]

	mu       sync.RWMutex
	state    S
	version  int
	config   C
	hasConfig bool

	parent   *gagent.AgentId
	children map[gagent.AgentId]struct{}

	// selfEnqueue routes a self-published envelope back through the owning
	// actor's queue, set by the actor wrapper at construction time so kernel need
	// not import actor (avoiding an import cycle) while still honoring the
	// non-reentrancy rule in §5.
	selfEnqueue func(ctx context.Context, env gagent.EventEnvelope)
}

// New constructs a Kernel for id/agentType with the given collaborators.
func New[S any, C any](id gagent.AgentId, agentType gagent.AgentType, deps Deps[S, C]) *Kernel[S, C] {
	if deps.Hooks == nil {
		deps.Hooks = NoopHooks{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Kernel[S, C]{
		id:        id,
		agentType: agentType,
		deps:      deps,
		children:  make(map[gagent.AgentId]struct{}),
	}
}

// ID returns this kernel's stable AgentId.
func (k *Kernel[S, C]) ID() gagent.AgentId { return k.id }

// AgentType returns this kernel's declared type.
func (k *Kernel[S, C]) AgentType() gagent.AgentType { return k.agentType }

// SetSelfEnqueue is called once by the owning actor wrapper to install the
// self-dispatch path.
func (k *Kernel[S, C]) SetSelfEnqueue(fn func(ctx context.Context, env gagent.EventEnvelope)) {
	k.selfEnqueue = fn
}

// Activate loads state (snapshot or event replay) and runs OnActivate. The
// actor wrapper calls this exactly once per activation, before any envelope is
// dispatched.
func (k *Kernel[S, C]) Activate(ctx context.Context) error {
	if k.deps.EventStore != nil && k.deps.Reduce != nil {
		events, err := k.deps.EventStore.Read(ctx, k.id, 0, 0)
		if err != nil {
			return fmt.Errorf("kernel: replay state for %s: %w", k.id, err)
		}
		var state S
		for _, e := range events {
			state = k.deps.Reduce(state, e)
		}
		k.mu.Lock()
		k.state = state
		k.version = len(events)
		k.mu.Unlock()
	} else if k.deps.StateStore != nil {
		state, found, err := k.deps.StateStore.Load(ctx, k.id)
		if err != nil {
			return fmt.Errorf("kernel: load state for %s: %w", k.id, err)
		}
		if found {
			k.mu.Lock()
			k.state = state
			k.mu.Unlock()
		}
		if vs, ok := any(k.deps.StateStore).(store.VersionedStateStore[S]); ok {
			version, err := vs.CurrentVersion(ctx, k.id)
			if err == nil {
				k.mu.Lock()
				k.version = version
				k.mu.Unlock()
			}
		}
	}

	if k.deps.ConfigStore != nil {
		cfg, found, err := k.deps.ConfigStore.Load(ctx, k.agentType, k.id)
		if err != nil {
			return fmt.Errorf("kernel: load config for %s: %w", k.id, err)
		}
		if found {
			k.mu.Lock()
			k.config = cfg
			k.hasConfig = true
			k.mu.Unlock()
		}
	}

	k.deps.Streams.GetOrCreate(k.id)
	return k.deps.Hooks.OnActivate(ctx)
}

// Deactivate runs OnDeactivate, persists current state, and disposes the
// stream and its subscriptions.
func (k *Kernel[S, C]) Deactivate(ctx context.Context) error {
	if err := k.deps.Hooks.OnDeactivate(ctx); err != nil {
		return err
	}
	if err := k.persist(ctx); err != nil {
		return err
	}
	k.deps.Streams.Remove(k.id)
	return nil
}

func (k *Kernel[S, C]) persist(ctx context.Context) error {
	if k.deps.StateStore == nil {
		return nil
	}
	k.mu.RLock()
	state := k.state
	expected := k.version
	k.mu.RUnlock()

	if vs, ok := any(k.deps.StateStore).(store.VersionedStateStore[S]); ok {
		newVersion, err := vs.SaveVersion(ctx, k.id, state, expected)
		if err != nil {
			return err
		}
		k.mu.Lock()
		k.version = newVersion
		k.mu.Unlock()
		return nil
	}
	return k.deps.StateStore.Save(ctx, k.id, state)
}

// State returns a copy of the current in-memory state.
func (k *Kernel[S, C]) State() S {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// SetState replaces the in-memory state. Callers must only do this from inside
// a handler, per the single-threaded discipline the actor wrapper enforces.
func (k *Kernel[S, C]) SetState(s S) {
	k.mu.Lock()
	k.state = s
	k.mu.Unlock()
}

// AppendEvent appends one StateLogEvent for an event-sourced agent type,
// advances its version, and folds the event into the in-memory state via
// Reduce. Handlers for event-sourced agent types call this instead of
// SetState; requires EventStore and Reduce to both be configured.
func (k *Kernel[S, C]) AppendEvent(ctx context.Context, eventTypeTag string, payload []byte, metadata map[string]string) error {
	if k.deps.EventStore == nil || k.deps.Reduce == nil {
		return fmt.Errorf("kernel: AppendEvent requires an EventStore and Reduce for %s", k.id)
	}
	k.mu.RLock()
	nextVersion := k.version + 1
	k.mu.RUnlock()

	event := store.StateLogEvent{
		EventID:      uuid.NewString(),
		AgentID:      k.id,
		Version:      nextVersion,
		EventTypeTag: eventTypeTag,
		Payload:      payload,
		Timestamp:    time.Now().Unix(),
		Metadata:     metadata,
	}
	if err := k.deps.EventStore.Append(ctx, k.id, event); err != nil {
		return err
	}

	k.mu.Lock()
	k.state = k.deps.Reduce(k.state, event)
	k.version = nextVersion
	k.mu.Unlock()
	return nil
}

// Config returns the current config and whether one has been loaded.
func (k *Kernel[S, C]) Config() (C, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.config, k.hasConfig
}

// SetConfig updates the in-memory config and persists it via the config store.
func (k *Kernel[S, C]) SetConfig(ctx context.Context, cfg C) error {
	k.mu.Lock()
	k.config = cfg
	k.hasConfig = true
	k.mu.Unlock()
	if k.deps.ConfigStore == nil {
		return nil
	}
	return k.deps.ConfigStore.Save(ctx, k.agentType, k.id, cfg)
}

// Parent returns the current parent, if any.
func (k *Kernel[S, C]) Parent() (gagent.AgentId, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.parent == nil {
		return gagent.AgentId{}, false
	}
	return *k.parent, true
}

// Children returns a snapshot of the current children set.
func (k *Kernel[S, C]) Children() []gagent.AgentId {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]gagent.AgentId, 0, len(k.children))
	for c := range k.children {
		out = append(out, c)
	}
	return out
}

// SetParentLocal records id as this kernel's parent, replacing any previous
// one. The subscription wiring itself is the caller's responsibility (factory.Attach),
// since it requires reaching into the parent's actor — kernel only owns the
// bookkeeping half of the invariant described in §3.
func (k *Kernel[S, C]) SetParentLocal(id gagent.AgentId) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p := id
	k.parent = &p
}

// ClearParentLocal forgets the current parent.
func (k *Kernel[S, C]) ClearParentLocal() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.parent = nil
}

// AddChildLocal records childID in the children set.
func (k *Kernel[S, C]) AddChildLocal(childID gagent.AgentId) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.children[childID] = struct{}{}
}

// RemoveChildLocal forgets childID.
func (k *Kernel[S, C]) RemoveChildLocal(childID gagent.AgentId) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.children, childID)
}

// Publish builds a fresh envelope originated by this kernel, writes it to its
// own stream (observable by subscribers — typically children for Down/Both,
// parents for Up/Both, wired by the subscription manager when hierarchy edges
// are established), and enqueues the envelope for this kernel's own dispatch on
// the actor's next turn, honoring non-reentrancy (§5).
func (k *Kernel[S, C]) Publish(ctx context.Context, payload any, direction gagent.Direction, correlationID string) (dropped bool) {
	env := gagent.NewEnvelope(k.id, payload, direction, correlationID)
	eventType := fmt.Sprintf("%T", payload)

	start := time.Now()
	s := k.deps.Streams.GetOrCreate(k.id)
	dropped = s.Produce(ctx, env)
	if k.deps.Telemetry != nil {
		k.deps.Telemetry.ObservePublishDuration(k.id.String(), eventType, time.Since(start))
		if dropped {
			k.deps.Telemetry.RecordDropped(k.id.String(), eventType, "stream_full")
		} else {
			k.deps.Telemetry.RecordPublished(k.id.String(), eventType)
		}
		k.deps.Telemetry.SetStreamQueueLength(k.id.String(), s.Len())
	}
	if k.selfEnqueue != nil {
		k.selfEnqueue(ctx, env)
	}
	return dropped
}

// HandleEventAsync is the canonical entry point for any incoming envelope
// (self-published, from a stream subscription, or forwarded), invoked by the
// actor wrapper under its serialization. It runs the §4.5 dispatch: self-loop
// check, dedup, handler resolution in priority order, sequential execution.
func (k *Kernel[S, C]) HandleEventAsync(ctx context.Context, env gagent.EventEnvelope) error {
	eventType := fmt.Sprintf("%T", env.Payload)

	selfOriginated := env.HasVisited(k.id)
	fns := k.deps.Handlers.Resolve(env, k.id, selfOriginated)
	if selfOriginated && len(fns) == 0 {
		if k.deps.Telemetry != nil {
			k.deps.Telemetry.RecordDropped(k.id.String(), eventType, "self_loop")
		}
		return nil
	}

	isNew, err := k.deps.Dedup.TryRecord(env.ID)
	if err != nil {
		return err
	}
	if !isNew {
		if k.deps.Telemetry != nil {
			k.deps.Telemetry.RecordDedupDuplicate(k.id.String())
			k.deps.Telemetry.RecordDropped(k.id.String(), eventType, "duplicate")
		}
		return nil
	}

	ctx = WithSelf(ctx, k)
	scopedLogger := k.deps.Logger
	if k.deps.Telemetry != nil {
		start := time.Now()
		var span trace.Span
		var tracedCtx context.Context
		tracedCtx, span, scopedLogger = k.deps.Telemetry.StartEventSpan(ctx, k.id.String(), env.ID, eventType, env.CorrelationID)
		ctx = tracedCtx
		defer func() {
			k.deps.Telemetry.ObserveHandleDuration(k.id.String(), eventType, time.Since(start))
			span.End()
		}()
	}

	var firstErr error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			if scopedLogger != nil {
				scopedLogger.Warn("handler returned error", zap.Error(err))
			}
			if k.deps.Telemetry != nil {
				k.deps.Telemetry.RecordException("handle_event")
			}
			if firstErr == nil {
				firstErr = &gagent.HandlerError{AgentID: k.id, EventType: eventType, Err: err}
			}
		}
	}
	if k.deps.Telemetry != nil {
		k.deps.Telemetry.RecordHandled(k.id.String(), eventType)
	}
	return firstErr
}
