package gagent

import (
	"time"

	"github.com/google/uuid"
)

// AgentId is a universally unique, 128-bit identifier, stable across activations.
// It is the primary key in every store.
type AgentId uuid.UUID

// NewAgentId allocates a fresh AgentId.
func NewAgentId() AgentId {
	return AgentId(uuid.New())
}

// ParseAgentId parses the canonical string form of an AgentId.
func ParseAgentId(s string) (AgentId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return AgentId{}, err
	}
	return AgentId(id), nil
}

// IsZero reports whether this is the zero-value AgentId (never allocated).
func (a AgentId) IsZero() bool {
	return a == AgentId{}
}

func (a AgentId) String() string {
	return uuid.UUID(a).String()
}

// AgentType names a user-declared agent variant. It is used to locate the
// declared state schema, config schema, and reflected-equivalent handler set for
// agents of that type.
type AgentType string

// Direction controls which side of the hierarchy observes a published envelope.
type Direction int

const (
	// Down delivers to descendants only.
	Down Direction = iota
	// Up delivers to ancestors only.
	Up
	// Both delivers to descendants and ancestors, never siblings. A Both envelope
	// re-emitted by a descendant becomes Down-only; re-emitted by an ancestor it
	// becomes Up-only (see subscription.Handle's deliverWithFlip).
	Both
)

func (d Direction) String() string {
	switch d {
	case Down:
		return "down"
	case Up:
		return "up"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// EventEnvelope is the unit of traffic between agents. Its id is unique and never
// reused: an envelope whose id has already been recorded by an agent's deduplicator
// must not be redelivered to that agent's handlers.
type EventEnvelope struct {
	// ID is the dedup key, unique per envelope.
	ID string
	// Payload is an opaque, typed value; its concrete Go type is the discriminating
	// type tag used by the handler registry at dispatch time.
	Payload any
	// PublisherChain is the ordered list of AgentIds that have already
	// handled/forwarded this envelope. Used for loop avoidance and direction
	// flipping. PublisherChain[0] is the originator.
	PublisherChain []AgentId
	// Direction controls who observes this envelope.
	Direction Direction
	// Timestamp is a monotonic instant assigned when the envelope was built.
	Timestamp time.Time
	// CorrelationID is an opaque, user-supplied string threaded through logs and
	// traces for the lifetime of a causally related chain of envelopes.
	CorrelationID string
}

// Originator returns the AgentId that first published this envelope.
func (e EventEnvelope) Originator() (AgentId, bool) {
	if len(e.PublisherChain) == 0 {
		return AgentId{}, false
	}
	return e.PublisherChain[0], true
}

// HasVisited reports whether id already appears in the envelope's publisher chain.
func (e EventEnvelope) HasVisited(id AgentId) bool {
	for _, p := range e.PublisherChain {
		if p == id {
			return true
		}
	}
	return false
}

// WithVisited returns a copy of the envelope with id appended to the publisher
// chain, as required before forwarding an envelope onward.
func (e EventEnvelope) WithVisited(id AgentId) EventEnvelope {
	chain := make([]AgentId, len(e.PublisherChain), len(e.PublisherChain)+1)
	copy(chain, e.PublisherChain)
	chain = append(chain, id)
	e.PublisherChain = chain
	return e
}

// WithDirection returns a copy of the envelope with a new direction, used when an
// intermediate node flips Both to Down or Up on re-emission.
func (e EventEnvelope) WithDirection(d Direction) EventEnvelope {
	e.Direction = d
	return e
}

// NewEnvelope builds a fresh envelope originated by self, with a newly allocated
// dedup id and a publisher chain containing only self.
func NewEnvelope(self AgentId, payload any, direction Direction, correlationID string) EventEnvelope {
	return EventEnvelope{
		ID:             uuid.NewString(),
		Payload:        payload,
		PublisherChain: []AgentId{self},
		Direction:      direction,
		Timestamp:      time.Now(),
		CorrelationID:  correlationID,
	}
}
