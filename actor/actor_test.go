package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/dedup"
	"github.com/gagentflow/gagent/handler"
	"github.com/gagentflow/gagent/kernel"
	"github.com/gagentflow/gagent/store"
	"github.com/gagentflow/gagent/stream"
)

type counterState struct{ Count int }
type counterConfig struct{}

func newTestActor(t *testing.T) (*Ref[counterState, counterConfig], *handler.Registry) {
	t.Helper()
	reg := handler.NewRegistry()
	deps := kernel.Deps[counterState, counterConfig]{
		StateStore: store.NewMemoryStateStore[counterState](),
		Dedup:      dedup.New(dedup.DefaultConfig()),
		Streams:    stream.NewRegistry(stream.DefaultConfig()),
		Handlers:   reg,
	}
	k := kernel.New[counterState, counterConfig](gagent.NewAgentId(), "counter", deps)
	return New[counterState, counterConfig](k, DefaultConfig()), reg
}

func TestActivateThenDeactivatePersistsState(t *testing.T) {
	a, reg := newTestActor(t)
	ctx := context.Background()

	handler.RegisterHandler(reg, 0, true, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		s := a.Kernel().State()
		s.Count += p
		a.Kernel().SetState(s)
		return nil
	})

	require.NoError(t, a.Activate(ctx))
	require.NoError(t, a.Publish(ctx, 3, gagent.Down, ""))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Deactivate(ctx))
	require.Equal(t, 3, a.Kernel().State().Count)
}

func TestSubmitRejectedAfterDeactivate(t *testing.T) {
	a, _ := newTestActor(t)
	ctx := context.Background()
	require.NoError(t, a.Activate(ctx))
	require.NoError(t, a.Deactivate(ctx))

	err := a.Submit(ctx, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrDeactivated)
}

func TestSerializesConcurrentPublishes(t *testing.T) {
	a, reg := newTestActor(t)
	ctx := context.Background()

	handler.RegisterHandler(reg, 0, true, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		s := a.Kernel().State()
		s.Count++
		a.Kernel().SetState(s)
		return nil
	})

	require.NoError(t, a.Activate(ctx))
	defer a.Deactivate(ctx)

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- a.Publish(ctx, 1, gagent.Down, "") }()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, n, a.Kernel().State().Count)
}

func TestPanicInHandlerIsRecoveredAsFatalError(t *testing.T) {
	a, reg := newTestActor(t)
	ctx := context.Background()

	handler.RegisterHandler(reg, 0, false, func(ctx context.Context, env gagent.EventEnvelope, p int) error {
		panic("boom")
	})

	require.NoError(t, a.Activate(ctx))
	defer a.Deactivate(ctx)

	env := gagent.NewEnvelope(gagent.NewAgentId(), 1, gagent.Down, "")
	err := a.SubmitWait(ctx, func(ctx context.Context) error {
		return a.Kernel().HandleEventAsync(ctx, env)
	})
	require.Error(t, err)
	var fatal *gagent.FatalError
	require.ErrorAs(t, err, &fatal)
}
