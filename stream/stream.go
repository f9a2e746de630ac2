// Package stream implements the per-agent bounded, multi-consumer, type-filtered
// message stream (C4): a bounded channel with atomic produced/dropped counters,
// plus a subscribe/unsubscribe-with-reverse-lookup idiom for fan-out delivery.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gagentflow/gagent"
)

// Filter decides whether an envelope should be handed to a given subscriber.
type Filter func(gagent.EventEnvelope) bool

// Handler receives envelopes in order, one at a time, for a single subscription.
type Handler func(gagent.EventEnvelope)

// Config controls stream capacity and backpressure.
type Config struct {
	// Capacity bounds the stream's internal buffer.
	Capacity int
	// ProduceDeadline bounds how long Produce blocks against a full stream before
	// dropping the envelope and incrementing the drop counter.
	ProduceDeadline time.Duration
}

// DefaultConfig matches the process-wide defaults named in §6.
func DefaultConfig() Config {
	return Config{Capacity: 100, ProduceDeadline: 2 * time.Second}
}

// Stream is a per-agent bounded FIFO of envelopes: single-writer (the owning
// actor), multi-reader (subscribers). Within one stream, subscribers observe
// envelopes in produce order; across streams no ordering is promised.
type Stream struct {
	cfg Config

	buf chan gagent.EventEnvelope

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	dropped  atomic.Int64
	produced atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// New constructs a Stream and starts its internal fan-out loop.
func New(cfg Config) *Stream {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	s := &Stream{
		cfg:    cfg,
		buf:    make(chan gagent.EventEnvelope, cfg.Capacity),
		subs:   make(map[*Subscription]struct{}),
		closed: make(chan struct{}),
	}
	go s.fanOut()
	return s
}

// Produce enqueues an envelope. If the stream is full, Produce blocks the caller
// until space frees up or cfg.ProduceDeadline elapses, then drops the envelope and
// increments the drop counter. A zero ProduceDeadline blocks indefinitely (subject
// to ctx).
func (s *Stream) Produce(ctx context.Context, env gagent.EventEnvelope) (dropped bool) {
	select {
	case s.buf <- env:
		s.produced.Add(1)
		return false
	default:
	}

	var timer *time.Timer
	var timeoutC <-chan time.Time
	if s.cfg.ProduceDeadline > 0 {
		timer = time.NewTimer(s.cfg.ProduceDeadline)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case s.buf <- env:
		s.produced.Add(1)
		return false
	case <-timeoutC:
		s.dropped.Add(1)
		return true
	case <-ctx.Done():
		s.dropped.Add(1)
		return true
	case <-s.closed:
		s.dropped.Add(1)
		return true
	}
}

// Subscribe registers handler to receive envelopes matching filter (nil filter
// matches everything), in produce order. Each subscription gets its own bounded
// delivery queue and goroutine, so a slow subscriber does not delay the current
// envelope's delivery to the others; while its queue stays full, the fan-out
// loop waits for it before taking the next envelope.
func (s *Stream) Subscribe(handler Handler, filter Filter) *Subscription {
	sub := &Subscription{
		stream:  s,
		handler: handler,
		filter:  filter,
		queue:   make(chan gagent.EventEnvelope, s.cfg.Capacity),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.startLocked()
	return sub
}

// Len reports the number of envelopes currently buffered in the stream, useful for
// the stream.queue.length gauge (C11).
func (s *Stream) Len() int {
	return len(s.buf)
}

// Dropped reports the cumulative drop counter.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Close disposes the stream: any in-flight envelope is discarded and every live
// subscription is disposed.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		subs := make([]*Subscription, 0, len(s.subs))
		for sub := range s.subs {
			subs = append(subs, sub)
		}
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Dispose()
		}
	})
}

func (s *Stream) removeSub(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// fanOut drains the stream's buffer and, for each envelope, offers it to every
// live subscriber concurrently via errgroup — one subscriber's momentarily-full
// queue blocks only that offer, not delivery to its siblings.
func (s *Stream) fanOut() {
	for {
		select {
		case env := <-s.buf:
			s.mu.RLock()
			subs := make([]*Subscription, 0, len(s.subs))
			for sub := range s.subs {
				subs = append(subs, sub)
			}
			s.mu.RUnlock()

			var g errgroup.Group
			for _, sub := range subs {
				sub := sub
				g.Go(func() error {
					sub.offer(env)
					return nil
				})
			}
			_ = g.Wait()
		case <-s.closed:
			return
		}
	}
}

// Subscription is a live attachment of one consumer to a Stream.
type Subscription struct {
	stream  *Stream
	handler Handler
	filter  Filter

	queue chan gagent.EventEnvelope
	done  chan struct{}

	mu     sync.Mutex
	active bool
	workerStarted bool
}

func (sub *Subscription) offer(env gagent.EventEnvelope) {
	sub.mu.Lock()
	active := sub.active
	sub.mu.Unlock()
	if !active {
		return
	}
	if sub.filter != nil && !sub.filter(env) {
		return
	}
	select {
	case sub.queue <- env:
	case <-sub.done:
	}
}

func (sub *Subscription) startLocked() {
	sub.mu.Lock()
	sub.active = true
	started := sub.workerStarted
	sub.workerStarted = true
	sub.mu.Unlock()
	if !started {
		go sub.worker()
	}
}

func (sub *Subscription) worker() {
	for {
		select {
		case env := <-sub.queue:
			sub.mu.Lock()
			active := sub.active
			sub.mu.Unlock()
			if active {
				sub.handler(env)
			}
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe pauses delivery without tearing down the subscription's queue or
// worker goroutine; Resume() reactivates it.
func (sub *Subscription) Unsubscribe() {
	sub.mu.Lock()
	sub.active = false
	sub.mu.Unlock()
}

// Resume reactivates a subscription previously paused by Unsubscribe. Idempotent.
func (sub *Subscription) Resume() {
	sub.mu.Lock()
	sub.active = true
	sub.mu.Unlock()
}

// Dispose permanently tears down the subscription: its worker goroutine exits and
// it is removed from the owning stream's subscriber set.
func (sub *Subscription) Dispose() {
	sub.mu.Lock()
	if !sub.active && sub.done == nil {
		sub.mu.Unlock()
		return
	}
	sub.active = false
	sub.mu.Unlock()

	select {
	case <-sub.done:
		// already disposed
	default:
		close(sub.done)
	}
	sub.stream.removeSub(sub)
}
