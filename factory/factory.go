// Package factory implements agent instantiation and dependency injection
// (C9): allocate/validate an id, build the kernel from explicit constructor
// dependencies, wrap it in an actor, and activate it. Grounded on the
// teacher's registry singleton-map-plus-RWMutex idiom (its agent registry used
// a map guarded by a mutex with sync.Once-style duplicate protection), adapted
// here to a per-id DuplicateAgentError instead of silent overwrite.
package factory

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/actor"
	"github.com/gagentflow/gagent/dedup"
	"github.com/gagentflow/gagent/handler"
	"github.com/gagentflow/gagent/kernel"
	"github.com/gagentflow/gagent/store"
	"github.com/gagentflow/gagent/stream"
	"github.com/gagentflow/gagent/subscription"
	"github.com/gagentflow/gagent/telemetry"
)

// Dependencies bundles the collaborators a specific agent instance needs.
// GAgent wires these explicitly through the type-parameterized constructor
// rather than via reflective field-name injection — Go's type system already
// names each collaborator's slot, so there is nothing for a reflection pass
// to resolve that the compiler doesn't resolve first. An LLM-provider
// collaborator is out of scope here (see SPEC_FULL.md §1);
// RequireConfigStore controls whether a missing config store fails
// CreateActor instead of silently proceeding without one.
type Dependencies[S any, C any] struct {
	Logger             *zap.Logger
	StateStore         store.StateStore[S]
	ConfigStore        store.ConfigStore[C]
	RequireConfigStore bool
	EventStore         store.EventStore
	Reduce             func(state S, event store.StateLogEvent) S
	Hooks              kernel.Hooks
	DedupConfig        dedup.Config
}

// Factory is the composition point that instantiates agents. One Factory is
// shared process-wide; it owns the live-agent registry and the per-type
// handler tables.
type Factory struct {
	streams       *stream.Registry
	subscriptions *subscription.Manager
	telemetry     *telemetry.Recorder
	logger        *zap.Logger
	actorCfg      actor.Config

	mu       sync.RWMutex
	agents   map[gagent.AgentId]actor.Actor
	handlers map[gagent.AgentType]*handler.Registry

	// create collapses concurrent CreateActor calls racing on the same id into a
	// single construction, so two goroutines that both pass the same explicit id
	// get back the same actor instead of one winning and the other bouncing off
	// a DuplicateAgentError purely due to scheduling.
	create singleflight.Group
}

// New constructs a Factory. telemetry may be nil to disable metrics.
func New(streams *stream.Registry, subscriptions *subscription.Manager, rec *telemetry.Recorder, logger *zap.Logger, actorCfg actor.Config) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		streams:       streams,
		subscriptions: subscriptions,
		telemetry:     rec,
		logger:        logger,
		actorCfg:      actorCfg,
		agents:        make(map[gagent.AgentId]actor.Actor),
		handlers:      make(map[gagent.AgentType]*handler.Registry),
	}
}

// RegisterType installs the handler table for agentType, built once per class
// as §4.5 requires. Subsequent CreateActor calls for this type share it.
func (f *Factory) RegisterType(agentType gagent.AgentType, handlers *handler.Registry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[agentType] = handlers
}

// CreateActor allocates id if absent, refusing if the registry already holds
// it, instantiates the kernel with the given dependencies plus the agent
// type's registered handler table, wraps it in an actor, and activates it.
func CreateActor[S any, C any](ctx context.Context, f *Factory, agentType gagent.AgentType, id *gagent.AgentId, deps Dependencies[S, C]) (*actor.Ref[S, C], error) {
	actualID := gagent.NewAgentId()
	if id != nil {
		actualID = *id
	}

	result, err, _ := f.create.Do(actualID.String(), func() (any, error) {
		return createActorLocked[S, C](ctx, f, agentType, actualID, deps)
	})
	if err != nil {
		return nil, err
	}
	return result.(*actor.Ref[S, C]), nil
}

func createActorLocked[S any, C any](ctx context.Context, f *Factory, agentType gagent.AgentType, actualID gagent.AgentId, deps Dependencies[S, C]) (*actor.Ref[S, C], error) {
	f.mu.Lock()
	if _, exists := f.agents[actualID]; exists {
		f.mu.Unlock()
		return nil, &gagent.DuplicateAgentError{ID: actualID}
	}
	handlers, ok := f.handlers[agentType]
	f.mu.Unlock()
	if !ok {
		handlers = handler.NewRegistry()
		f.logger.Warn("no handler table registered for agent type; using empty table",
			zap.String("agent_type", string(agentType)))
	}

	if deps.RequireConfigStore && deps.ConfigStore == nil {
		return nil, gagent.ErrInvalidArgument
	}
	if deps.Logger == nil {
		deps.Logger = f.logger
	}
	dedupCfg := deps.DedupConfig
	if dedupCfg == (dedup.Config{}) {
		dedupCfg = dedup.DefaultConfig()
	}

	k := kernel.New[S, C](actualID, agentType, kernel.Deps[S, C]{
		Logger:      deps.Logger,
		StateStore:  deps.StateStore,
		ConfigStore: deps.ConfigStore,
		EventStore:  deps.EventStore,
		Reduce:      deps.Reduce,
		Dedup:       dedup.New(dedupCfg),
		Streams:     f.streams,
		Handlers:    handlers,
		Hooks:       deps.Hooks,
		Telemetry:   f.telemetry,
	})

	ref := actor.New[S, C](k, f.actorCfg)

	f.mu.Lock()
	if _, exists := f.agents[actualID]; exists {
		f.mu.Unlock()
		return nil, &gagent.DuplicateAgentError{ID: actualID}
	}
	f.agents[actualID] = ref
	f.mu.Unlock()

	if err := ref.Activate(ctx); err != nil {
		f.mu.Lock()
		delete(f.agents, actualID)
		f.mu.Unlock()
		return nil, err
	}

	if f.telemetry != nil {
		f.telemetry.SetActorsActive(f.Len())
	}
	return ref, nil
}

// Get returns the live actor for id, if any.
func (f *Factory) Get(id gagent.AgentId) (actor.Actor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.agents[id]
	return a, ok
}

// Remove deactivates and forgets the actor for id.
func (f *Factory) Remove(ctx context.Context, id gagent.AgentId) error {
	f.mu.Lock()
	a, ok := f.agents[id]
	if ok {
		delete(f.agents, id)
	}
	f.mu.Unlock()
	if !ok {
		return nil
	}
	err := a.Deactivate(ctx)
	if f.telemetry != nil {
		f.telemetry.SetActorsActive(f.Len())
	}
	return err
}

// Len reports the number of live actors.
func (f *Factory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.agents)
}

// Attach wires a child/parent hierarchy edge end to end: records the
// bookkeeping on both kernels and establishes both subscription legs
// (child subscribes to parent's stream for Down/Both, parent subscribes to
// child's stream for Up/Both), refusing if it would create a cycle.
func (f *Factory) Attach(ctx context.Context, parent, child actor.Actor) error {
	if err := parent.AddChild(ctx, child.ID()); err != nil {
		return err
	}
	if err := child.SetParent(ctx, parent.ID()); err != nil {
		return err
	}

	if _, err := f.subscriptions.Subscribe(ctx, parent.ID(), child.ID(), child.Deliver, gagent.Down, subscription.DefaultRetryPolicy()); err != nil {
		return err
	}
	if _, err := f.subscriptions.Subscribe(ctx, child.ID(), parent.ID(), parent.Deliver, gagent.Up, subscription.DefaultRetryPolicy()); err != nil {
		return err
	}
	return nil
}

// Detach tears down a previously-Attached hierarchy edge.
func (f *Factory) Detach(ctx context.Context, parent, child actor.Actor) error {
	for _, h := range f.subscriptions.GetActive() {
		if h.Key.StreamOwnerID == parent.ID() && h.Key.SubscriberID == child.ID() {
			f.subscriptions.Unsubscribe(h)
		}
		if h.Key.StreamOwnerID == child.ID() && h.Key.SubscriberID == parent.ID() {
			f.subscriptions.Unsubscribe(h)
		}
	}
	if err := child.ClearParent(ctx); err != nil {
		return err
	}
	return parent.RemoveChild(ctx, child.ID())
}
