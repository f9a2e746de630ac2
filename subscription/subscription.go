// Package subscription implements the resilient parent/child stream subscription
// manager (C8): creates, health-checks, and reconnects a subscriber's attachment
// to another agent's stream, with retry/backoff built on internal/backoff and a
// ticker-driven health-check loop that periodically reconnects unhealthy handles.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/internal/backoff"
	"github.com/gagentflow/gagent/stream"
)

// ErrWouldCycle is returned when a subscription would create a cycle in the
// agent hierarchy graph.
var ErrWouldCycle = errors.New("subscription: would create a cycle")

// ErrStreamOwnerMissing is returned when retries are exhausted without the
// target stream ever appearing in the registry.
var ErrStreamOwnerMissing = errors.New("subscription: stream owner has no stream")

// RetryPolicy controls how Subscribe retries locating a not-yet-created stream.
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
	ShouldRetry func(err error, attempt int) bool
}

// DefaultRetryPolicy uses the shared exponential backoff helper and retries any
// error save ErrWouldCycle.
func DefaultRetryPolicy() RetryPolicy {
	cfg := backoff.DefaultConfig()
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       cfg.Delay,
		ShouldRetry: func(err error, attempt int) bool { return !errors.Is(err, ErrWouldCycle) },
	}
}

// Key identifies one subscription: subscriberID attached to streamOwnerID's
// stream. This covers both the downward attachment (child subscribes to
// parent's stream) and the upward attachment (parent subscribes to child's
// stream), which are each represented as one Subscribe call with
// streamOwnerID set to whichever side owns the stream.
type Key struct {
	StreamOwnerID gagent.AgentId
	SubscriberID  gagent.AgentId
}

// Handle is a live (or temporarily unhealthy) subscription, reconnectable and
// disposable.
type Handle struct {
	Key Key

	streams    *stream.Registry
	deliver    stream.Handler
	flipBothTo gagent.Direction
	retry      RetryPolicy

	mu      sync.Mutex
	sub     *stream.Subscription
	owner   *stream.Stream // the stream instance sub is attached to
	healthy bool
}

func filterFor(subscriberID gagent.AgentId) stream.Filter {
	return func(env gagent.EventEnvelope) bool {
		origin, ok := env.Originator()
		return !ok || origin != subscriberID
	}
}

// deliverWithFlip converts a Both envelope to this leg's direction and then
// drops anything that still doesn't match — a plain Down or Up envelope
// belongs only to the leg subscribed for that direction, never to the other
// one sharing the same stream (e.g. a grandparent's Up leg and a child's Down
// leg both subscribe to the same parent stream; a Down-only publish must
// reach the child leg and not the grandparent leg).
func (h *Handle) deliverWithFlip(env gagent.EventEnvelope) {
	if env.Direction == gagent.Both {
		env = env.WithDirection(h.flipBothTo)
	}
	if env.Direction != h.flipBothTo {
		return
	}
	h.deliver(env)
}

// Manager owns the registry of live subscriptions.
type Manager struct {
	streams *stream.Registry

	// CycleChecker reports whether attaching subscriberID to streamOwnerID's
	// stream would create a cycle in the hierarchy graph. Supplied by the caller
	// (kernel/runtime), since Manager does not itself own the hierarchy.
	CycleChecker func(streamOwnerID, subscriberID gagent.AgentId) bool

	mu       sync.RWMutex
	handles  map[Key]*Handle
}

// NewManager constructs a Manager backed by the given stream registry.
func NewManager(streams *stream.Registry) *Manager {
	return &Manager{streams: streams, handles: make(map[Key]*Handle)}
}

// Subscribe attaches subscriberID to streamOwnerID's stream, retrying per
// retryPolicy while the stream does not yet exist. flipBothTo is the direction a
// Both envelope is converted to before delivery (Down when subscribing to a
// parent's stream, Up when subscribing to a child's stream). On failure no
// partial subscription is left behind.
func (m *Manager) Subscribe(ctx context.Context, streamOwnerID, subscriberID gagent.AgentId, deliver stream.Handler, flipBothTo gagent.Direction, retry RetryPolicy) (*Handle, error) {
	if m.CycleChecker != nil && m.CycleChecker(streamOwnerID, subscriberID) {
		return nil, ErrWouldCycle
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}

	key := Key{StreamOwnerID: streamOwnerID, SubscriberID: subscriberID}

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		s, ok := m.streams.Get(streamOwnerID)
		if !ok {
			lastErr = ErrStreamOwnerMissing
			if retry.ShouldRetry != nil && !retry.ShouldRetry(lastErr, attempt) {
				break
			}
			if attempt < retry.MaxAttempts {
				select {
				case <-time.After(retry.Delay(attempt)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			continue
		}

		h := &Handle{
			Key:        key,
			streams:    m.streams,
			deliver:    deliver,
			flipBothTo: flipBothTo,
			retry:      retry,
			healthy:    true,
		}
		h.sub = s.Subscribe(h.deliverWithFlip, filterFor(subscriberID))
		h.owner = s

		m.mu.Lock()
		m.handles[key] = h
		m.mu.Unlock()
		return h, nil
	}

	return nil, fmt.Errorf("subscribe %s -> %s after %d attempts: %w", subscriberID, streamOwnerID, retry.MaxAttempts, lastErr)
}

// IsHealthy reports false if the stream owner's stream no longer exists (or has
// been replaced by a new stream since h subscribed) or the underlying
// subscription has been marked inactive.
func (m *Manager) IsHealthy(h *Handle) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.healthy {
		return false
	}
	s, ok := h.streams.Get(h.Key.StreamOwnerID)
	return ok && s == h.owner
}

// Reconnect attempts Resume() first; if the stream owner's stream is gone, or
// has been replaced by a new stream, it recreates the subscription from
// scratch, preserving the original handler and filter. Idempotent.
func (m *Manager) Reconnect(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	s, ok := h.streams.Get(h.Key.StreamOwnerID)
	if ok && s == h.owner {
		h.sub.Resume()
		h.healthy = true
		h.mu.Unlock()
		return nil
	}
	deliver, flip, retry := h.deliver, h.flipBothTo, h.retry
	h.healthy = false
	h.mu.Unlock()

	fresh, err := m.Subscribe(ctx, h.Key.StreamOwnerID, h.Key.SubscriberID, deliver, flip, retry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.sub = fresh.sub
	h.owner = fresh.owner
	h.healthy = true
	h.mu.Unlock()
	return nil
}

// Unsubscribe disposes h and removes it from the registry.
func (m *Manager) Unsubscribe(h *Handle) {
	h.mu.Lock()
	h.healthy = false
	sub := h.sub
	h.mu.Unlock()
	if sub != nil {
		sub.Dispose()
	}
	m.mu.Lock()
	delete(m.handles, h.Key)
	m.mu.Unlock()
}

// GetActive returns a snapshot of all handles currently in the registry
// (including ones momentarily unhealthy but not yet unsubscribed).
func (m *Manager) GetActive() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	return out
}

// StartHealthCheck runs a background loop that reconnects unhealthy handles
// every interval, until ctx is done. Reconnect attempts are throttled by a
// token-bucket limiter so a large hierarchy with many simultaneously-unhealthy
// handles cannot hammer the stream registry with reconnect retries in one tick.
func (m *Manager) StartHealthCheck(ctx context.Context, interval time.Duration) {
	limiter := rate.NewLimiter(rate.Every(interval/10+1), 1)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, h := range m.GetActive() {
					if m.IsHealthy(h) {
						continue
					}
					if err := limiter.Wait(ctx); err != nil {
						return
					}
					_ = m.Reconnect(ctx, h)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
