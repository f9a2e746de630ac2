// Package actor implements the serialized single-threaded wrapper around a
// kernel (C7): one worker goroutine draining a task queue, narrowed to
// exactly one worker per actor rather than an elastic pool, since the
// contract requires strict one-at-a-time delivery per agent rather than
// bounded concurrency across many tasks.
package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/kernel"
)

// ErrDeactivated is returned by Submit/SubmitWait once the actor has been
// deactivated and its worker stopped.
var ErrDeactivated = errors.New("actor: deactivated")

// Actor is the non-generic surface every Ref[S, C] satisfies, used wherever a
// registry or runtime needs to hold actors of differing state/config types in
// one collection (the factory's live-agent registry, the subscription wiring).
type Actor interface {
	ID() gagent.AgentId
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Publish(ctx context.Context, payload any, direction gagent.Direction, correlationID string) error
	HandleEventAsync(ctx context.Context, env gagent.EventEnvelope) error
	Deliver(env gagent.EventEnvelope)
	SetParent(ctx context.Context, parentID gagent.AgentId) error
	ClearParent(ctx context.Context) error
	AddChild(ctx context.Context, childID gagent.AgentId) error
	RemoveChild(ctx context.Context, childID gagent.AgentId) error
	Stats() Stats
}

var _ Actor = (*Ref[struct{}, struct{}])(nil)

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// Ref is the serialized handle external code holds for one agent. It owns a
// single worker goroutine draining a FIFO queue, guaranteeing that every
// operation against the wrapped kernel — publish, handle, hierarchy edits —
// runs one at a time, in submission order.
type Ref[S any, C any] struct {
	id     gagent.AgentId
	kernel *kernel.Kernel[S, C]

	queue  chan task
	stopCh chan struct{}
	active atomic.Bool

	closeOnce sync.Once
	wg        sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	panicHandler func(any)
}

// Config controls the actor's queue depth and panic handling.
type Config struct {
	QueueSize    int
	PanicHandler func(any)
}

// DefaultConfig is a 256-deep queue with no panic handler override (panics are
// always recovered and converted to an error regardless).
func DefaultConfig() Config {
	return Config{QueueSize: 256}
}

// New wraps k in an actor and installs k's self-dispatch path, but does not yet
// start the worker — call Activate for that.
func New[S any, C any](k *kernel.Kernel[S, C], cfg Config) *Ref[S, C] {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	a := &Ref[S, C]{
		id:           k.ID(),
		kernel:       k,
		queue:        make(chan task, cfg.QueueSize),
		stopCh:       make(chan struct{}),
		panicHandler: cfg.PanicHandler,
	}
	k.SetSelfEnqueue(func(ctx context.Context, env gagent.EventEnvelope) {
		_ = a.Submit(ctx, func(ctx context.Context) error {
			return a.kernel.HandleEventAsync(ctx, env)
		})
	})
	return a
}

// ID returns the wrapped agent's identifier.
func (a *Ref[S, C]) ID() gagent.AgentId { return a.id }

// Activate starts the worker goroutine, then runs the kernel's Activate
// (state load/replay + OnActivate) as the first serialized operation so it
// completes before any envelope is dispatched.
func (a *Ref[S, C]) Activate(ctx context.Context) error {
	a.active.Store(true)
	a.wg.Add(1)
	go a.worker()
	return a.SubmitWait(ctx, a.kernel.Activate)
}

// Deactivate flushes in-flight work, runs the kernel's Deactivate (persist +
// dispose stream), then stops the worker. Submit/SubmitWait fail with
// ErrDeactivated once this returns.
func (a *Ref[S, C]) Deactivate(ctx context.Context) error {
	err := a.SubmitWait(ctx, a.kernel.Deactivate)
	a.closeOnce.Do(func() {
		a.active.Store(false)
		close(a.stopCh)
	})
	a.wg.Wait()
	return err
}

// Publish serializes a kernel.Publish call.
func (a *Ref[S, C]) Publish(ctx context.Context, payload any, direction gagent.Direction, correlationID string) error {
	return a.SubmitWait(ctx, func(ctx context.Context) error {
		a.kernel.Publish(ctx, payload, direction, correlationID)
		return nil
	})
}

// HandleEventAsync serializes delivery of an externally-sourced envelope (from
// a stream subscription or a direct forward) into the kernel's dispatch.
func (a *Ref[S, C]) HandleEventAsync(ctx context.Context, env gagent.EventEnvelope) error {
	return a.Submit(ctx, func(ctx context.Context) error {
		return a.kernel.HandleEventAsync(ctx, env)
	})
}

// Deliver adapts Ref to stream.Handler so it can be passed directly to
// subscription.Manager.Subscribe.
func (a *Ref[S, C]) Deliver(env gagent.EventEnvelope) {
	_ = a.HandleEventAsync(context.Background(), env)
}

// Kernel exposes the wrapped kernel for hierarchy/state operations that are
// themselves serialized by the caller (runtime/factory wiring happens before
// Activate, and SetParent/AddChild below wrap the mutating calls).
func (a *Ref[S, C]) Kernel() *kernel.Kernel[S, C] { return a.kernel }

// SetParent serializes setting the parent bookkeeping.
func (a *Ref[S, C]) SetParent(ctx context.Context, parentID gagent.AgentId) error {
	return a.SubmitWait(ctx, func(ctx context.Context) error {
		a.kernel.SetParentLocal(parentID)
		return nil
	})
}

// ClearParent serializes clearing the parent bookkeeping.
func (a *Ref[S, C]) ClearParent(ctx context.Context) error {
	return a.SubmitWait(ctx, func(ctx context.Context) error {
		a.kernel.ClearParentLocal()
		return nil
	})
}

// AddChild serializes recording a child.
func (a *Ref[S, C]) AddChild(ctx context.Context, childID gagent.AgentId) error {
	return a.SubmitWait(ctx, func(ctx context.Context) error {
		a.kernel.AddChildLocal(childID)
		return nil
	})
}

// RemoveChild serializes forgetting a child.
func (a *Ref[S, C]) RemoveChild(ctx context.Context, childID gagent.AgentId) error {
	return a.SubmitWait(ctx, func(ctx context.Context) error {
		a.kernel.RemoveChildLocal(childID)
		return nil
	})
}

// Submit enqueues fn to run on the worker goroutine and returns immediately.
// Cancelling ctx before fn runs discards it without effect.
func (a *Ref[S, C]) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if !a.active.Load() {
		return ErrDeactivated
	}
	a.submitted.Add(1)
	t := task{ctx: ctx, fn: fn}
	select {
	case a.queue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopCh:
		return ErrDeactivated
	}
}

// SubmitWait enqueues fn and blocks until it has run (or ctx is cancelled
// first, or the actor is deactivated before fn runs).
func (a *Ref[S, C]) SubmitWait(ctx context.Context, fn func(ctx context.Context) error) error {
	if !a.active.Load() {
		return ErrDeactivated
	}
	a.submitted.Add(1)
	t := task{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case a.queue <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopCh:
		return ErrDeactivated
	}
	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a snapshot of the actor's queue/throughput counters.
type Stats struct {
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
}

// Stats returns a point-in-time snapshot.
func (a *Ref[S, C]) Stats() Stats {
	return Stats{
		Queued:    len(a.queue),
		Submitted: a.submitted.Load(),
		Completed: a.completed.Load(),
		Failed:    a.failed.Load(),
	}
}

func (a *Ref[S, C]) worker() {
	defer a.wg.Done()
	for {
		select {
		case t := <-a.queue:
			a.runOne(t)
		case <-a.stopCh:
			a.drain()
			return
		}
	}
}

// drain runs any tasks still buffered in the queue at shutdown time, so a
// Deactivate racing with an in-flight Submit does not silently discard work
// that already made it into the channel.
func (a *Ref[S, C]) drain() {
	for {
		select {
		case t := <-a.queue:
			a.runOne(t)
		default:
			return
		}
	}
}

func (a *Ref[S, C]) runOne(t task) {
	select {
	case <-t.ctx.Done():
		if t.result != nil {
			t.result <- t.ctx.Err()
		}
		return
	default:
	}

	err := a.runWithRecover(t)
	if err != nil {
		a.failed.Add(1)
	} else {
		a.completed.Add(1)
	}
	if t.result != nil {
		t.result <- err
	}
}

func (a *Ref[S, C]) runWithRecover(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if a.panicHandler != nil {
				a.panicHandler(r)
			}
			err = &gagent.FatalError{Reason: "actor task panicked", Err: nil}
		}
	}()
	return t.fn(t.ctx)
}
