package gagent

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the runtime. Store-specific packages may define
// additional sentinels (store.ErrNotFound, etc.) but use these for conditions that
// span package boundaries.
var (
	// ErrInvalidArgument marks a malformed input (empty event id, unknown agent
	// type). Never retried.
	ErrInvalidArgument = errors.New("gagent: invalid argument")

	// ErrNotFound marks a store lookup miss. May be expected (first activation) or
	// fatal depending on the caller.
	ErrNotFound = errors.New("gagent: not found")

	// ErrCycle marks a hierarchy operation that would create a parent/child cycle.
	ErrCycle = errors.New("gagent: cycle detected")

	// ErrActorDeactivated marks an operation attempted against an actor that has
	// been deactivated and is no longer usable (§7 Fatal).
	ErrActorDeactivated = errors.New("gagent: actor deactivated")
)

// VersionConflict reports an optimistic-concurrency mismatch on a versioned save:
// the caller's expected_version did not match the store's current version.
type VersionConflict struct {
	Expected int
	Actual   int
}

func (e *VersionConflict) Error() string {
	return fmt.Sprintf("gagent: version conflict: expected %d, actual %d", e.Expected, e.Actual)
}

// IsVersionConflict reports whether err is (or wraps) a *VersionConflict.
func IsVersionConflict(err error) bool {
	var vc *VersionConflict
	return errors.As(err, &vc)
}

// DuplicateAgentError reports that createActor was asked to allocate an id that is
// already held by a live agent.
type DuplicateAgentError struct {
	ID AgentId
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("gagent: duplicate agent id %s", e.ID)
}

// IsDuplicateAgent reports whether err is (or wraps) a *DuplicateAgentError.
func IsDuplicateAgent(err error) bool {
	var dup *DuplicateAgentError
	return errors.As(err, &dup)
}

// HandlerError wraps an error raised by user handler code. It is always logged and
// counted but never terminates the actor; the dispatcher continues running the
// remaining handlers for the same envelope.
type HandlerError struct {
	AgentID   AgentId
	EventType string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("gagent: handler error (agent=%s event_type=%s): %v", e.AgentID, e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// FatalError reports an internal invariant violation (cycle detected, corrupted
// event log) that makes the actor unusable. Once raised, the actor that produced it
// must be deactivated.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gagent: fatal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("gagent: fatal: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsRetryable classifies an error per the §7 taxonomy: Transient failures are
// retryable, Validation/Conflict/NotFound/Fatal are not (conflicts are retryable by
// the caller with fresh state, not automatically by the framework).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var vc *VersionConflict
	var dup *DuplicateAgentError
	var fatal *FatalError
	switch {
	case errors.As(err, &vc), errors.As(err, &dup), errors.As(err, &fatal):
		return false
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrNotFound), errors.Is(err, ErrCycle):
		return false
	default:
		return true
	}
}
