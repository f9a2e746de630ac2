package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/dedup"
	"github.com/gagentflow/gagent/handler"
	"github.com/gagentflow/gagent/store"
	"github.com/gagentflow/gagent/stream"
)

type counterState struct{ Count int }
type counterConfig struct{ Step int }

func newTestKernel(t *testing.T) (*Kernel[counterState, counterConfig], *handler.Registry) {
	t.Helper()
	reg := handler.NewRegistry()
	deps := Deps[counterState, counterConfig]{
		StateStore:  store.NewMemoryStateStore[counterState](),
		ConfigStore: store.NewMemoryConfigStore[counterConfig](),
		Dedup:       dedup.New(dedup.DefaultConfig()),
		Streams:     stream.NewRegistry(stream.DefaultConfig()),
		Handlers:    reg,
	}
	return New[counterState, counterConfig](gagent.NewAgentId(), "counter", deps), reg
}

func TestActivateLoadsPersistedState(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	require.NoError(t, k.Activate(ctx))
	k.SetState(counterState{Count: 5})
	require.NoError(t, k.Deactivate(ctx))

	k2 := New[counterState, counterConfig](k.ID(), "counter", k.deps)
	require.NoError(t, k2.Activate(ctx))
	require.Equal(t, 5, k2.State().Count)
}

func TestHandleEventAsyncRunsMatchingHandlersInOrder(t *testing.T) {
	k, reg := newTestKernel(t)
	ctx := context.Background()
	require.NoError(t, k.Activate(ctx))

	var order []string
	handler.RegisterHandler(reg, 1, false, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		order = append(order, "a")
		return nil
	})
	handler.RegisterHandler(reg, 2, false, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		order = append(order, "b")
		return nil
	})

	env := gagent.NewEnvelope(gagent.NewAgentId(), 7, gagent.Down, "")
	require.NoError(t, k.HandleEventAsync(ctx, env))
	require.Equal(t, []string{"a", "b"}, order)
}

func TestHandleEventAsyncDropsDuplicateEnvelope(t *testing.T) {
	k, reg := newTestKernel(t)
	ctx := context.Background()
	require.NoError(t, k.Activate(ctx))

	count := 0
	handler.RegisterHandler(reg, 0, false, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		count++
		return nil
	})

	env := gagent.NewEnvelope(gagent.NewAgentId(), 1, gagent.Down, "")
	require.NoError(t, k.HandleEventAsync(ctx, env))
	require.NoError(t, k.HandleEventAsync(ctx, env))
	require.Equal(t, 1, count)
}

func TestHandleEventAsyncDiscardsSelfLoopWithoutAllowSelf(t *testing.T) {
	k, reg := newTestKernel(t)
	ctx := context.Background()
	require.NoError(t, k.Activate(ctx))

	called := false
	handler.RegisterHandler(reg, 0, false, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		called = true
		return nil
	})

	env := gagent.NewEnvelope(k.ID(), 1, gagent.Down, "")
	require.NoError(t, k.HandleEventAsync(ctx, env))
	require.False(t, called)
}

func TestHandleEventAsyncAllowsSelfLoopWhenDeclared(t *testing.T) {
	k, reg := newTestKernel(t)
	ctx := context.Background()
	require.NoError(t, k.Activate(ctx))

	called := false
	handler.RegisterHandler(reg, 0, true, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		called = true
		return nil
	})

	env := gagent.NewEnvelope(k.ID(), 1, gagent.Down, "")
	require.NoError(t, k.HandleEventAsync(ctx, env))
	require.True(t, called)
}

func TestHandleEventAsyncContinuesAfterHandlerError(t *testing.T) {
	k, reg := newTestKernel(t)
	ctx := context.Background()
	require.NoError(t, k.Activate(ctx))

	secondRan := false
	handler.RegisterHandler(reg, 1, false, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		return require.AnError
	})
	handler.RegisterHandler(reg, 2, false, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		secondRan = true
		return nil
	})

	env := gagent.NewEnvelope(gagent.NewAgentId(), 1, gagent.Down, "")
	err := k.HandleEventAsync(ctx, env)
	require.Error(t, err)
	require.True(t, secondRan)
}

func TestPublishWritesToOwnStreamAndSelfEnqueues(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	require.NoError(t, k.Activate(ctx))

	var enqueued gagent.EventEnvelope
	got := false
	k.SetSelfEnqueue(func(ctx context.Context, env gagent.EventEnvelope) {
		enqueued = env
		got = true
	})

	// The stream's fan-out loop drains its buffer straight away, so the write is
	// observed through a subscriber rather than through Len().
	s, ok := k.deps.Streams.Get(k.ID())
	require.True(t, ok)
	produced := make(chan gagent.EventEnvelope, 1)
	sub := s.Subscribe(func(env gagent.EventEnvelope) { produced <- env }, nil)
	defer sub.Dispose()

	dropped := k.Publish(ctx, 42, gagent.Down, "corr-1")
	require.False(t, dropped)
	require.True(t, got)
	require.Equal(t, 42, enqueued.Payload)
	require.Equal(t, "corr-1", enqueued.CorrelationID)

	select {
	case env := <-produced:
		require.Equal(t, enqueued.ID, env.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("published envelope never reached the agent's own stream")
	}
}

func TestHierarchyBookkeeping(t *testing.T) {
	k, _ := newTestKernel(t)
	parentID := gagent.NewAgentId()
	childID := gagent.NewAgentId()

	k.SetParentLocal(parentID)
	p, ok := k.Parent()
	require.True(t, ok)
	require.Equal(t, parentID, p)

	k.AddChildLocal(childID)
	require.Contains(t, k.Children(), childID)

	k.RemoveChildLocal(childID)
	require.NotContains(t, k.Children(), childID)

	k.ClearParentLocal()
	_, ok = k.Parent()
	require.False(t, ok)
}
