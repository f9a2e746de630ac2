// Package store defines the pluggable persistence contracts (C2): a StateStore for
// snapshot-style agent state, a ConfigStore for per-(AgentType, AgentId) config, and
// an EventStore for event-sourced agents that rebuild state by replay. All
// operations are context-aware and cancellable; failures propagate as typed errors,
// never panics.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagentflow/gagent"
)

// Sentinel errors, mirroring agent/persistence/store.go's ErrNotFound /
// ErrAlreadyExists / ErrStoreClosed / ErrInvalidInput shape.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrStoreClosed   = errors.New("store: closed")
	ErrInvalidInput  = errors.New("store: invalid input")
)

// StateStore persists a single typed snapshot per AgentId.
type StateStore[S any] interface {
	Load(ctx context.Context, id gagent.AgentId) (S, bool, error)
	Save(ctx context.Context, id gagent.AgentId, state S) error
	Delete(ctx context.Context, id gagent.AgentId) error
	Exists(ctx context.Context, id gagent.AgentId) (bool, error)
}

// VersionedStateStore adds optimistic-concurrency saves on top of StateStore. A
// save that supplies the wrong expectedVersion fails with *gagent.VersionConflict.
type VersionedStateStore[S any] interface {
	StateStore[S]
	SaveVersion(ctx context.Context, id gagent.AgentId, state S, expectedVersion int) (newVersion int, err error)
	CurrentVersion(ctx context.Context, id gagent.AgentId) (int, error)
}

// ConfigStore persists config keyed by (AgentType, AgentId). Implementations MUST
// enforce uniqueness of that composite key: two agents of different types sharing
// an id must never see each other's config.
type ConfigStore[C any] interface {
	Load(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) (C, bool, error)
	Save(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId, cfg C) error
	Delete(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) error
	Exists(ctx context.Context, agentType gagent.AgentType, id gagent.AgentId) (bool, error)
}

// StateLogEvent is one entry of an event-sourced agent's append-only log. Per
// agent_id, Version is strictly increasing and dense starting at 1.
type StateLogEvent struct {
	EventID       string
	AgentID       gagent.AgentId
	Version       int
	EventTypeTag  string
	Payload       []byte
	Timestamp     int64
	Metadata      map[string]string
}

// EventStore is the append-only log backing event-sourced agents. Append MUST be
// serializable with respect to other appends for the same agent_id; reads MUST be
// monotonic.
type EventStore interface {
	Append(ctx context.Context, agentID gagent.AgentId, event StateLogEvent) error
	AppendBatch(ctx context.Context, agentID gagent.AgentId, events []StateLogEvent) error
	Read(ctx context.Context, agentID gagent.AgentId, fromVersion, toVersion int) ([]StateLogEvent, error)
	LatestVersion(ctx context.Context, agentID gagent.AgentId) (int, error)
	Clear(ctx context.Context, agentID gagent.AgentId) error
}

// VersionConflictf builds a *gagent.VersionConflict with a wrapping message, for
// store implementations that want to attach extra context via errors.Is/As chains.
func VersionConflictf(expected, actual int) error {
	return fmt.Errorf("%w", &gagent.VersionConflict{Expected: expected, Actual: actual})
}
