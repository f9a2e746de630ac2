package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gagentflow/gagent"
)

type pingPayload struct{ N int }
type pongPayload struct{ N int }

func TestResolveRunsInPriorityOrder(t *testing.T) {
	reg := NewRegistry()
	var order []string

	RegisterHandler(reg, 10, true, func(ctx context.Context, env gagent.EventEnvelope, p pingPayload) error {
		order = append(order, "second")
		return nil
	})
	RegisterHandler(reg, 1, true, func(ctx context.Context, env gagent.EventEnvelope, p pingPayload) error {
		order = append(order, "first")
		return nil
	})
	RegisterCatchAll(reg, 5, true, func(ctx context.Context, env gagent.EventEnvelope) error {
		order = append(order, "catchall")
		return nil
	})

	env := gagent.EventEnvelope{Payload: pingPayload{N: 1}}
	fns := reg.Resolve(env, gagent.NewAgentId(), false)
	require.Len(t, fns, 3)
	for _, fn := range fns {
		require.NoError(t, fn(context.Background()))
	}
	require.Equal(t, []string{"first", "catchall", "second"}, order)
}

func TestResolveSkipsTypeMismatch(t *testing.T) {
	reg := NewRegistry()
	called := false
	RegisterHandler(reg, 0, true, func(ctx context.Context, env gagent.EventEnvelope, p pingPayload) error {
		called = true
		return nil
	})

	env := gagent.EventEnvelope{Payload: pongPayload{N: 1}}
	fns := reg.Resolve(env, gagent.NewAgentId(), false)
	require.Empty(t, fns)
	require.False(t, called)
}

func TestResolveFiltersSelfOriginatedWhenNotAllowed(t *testing.T) {
	reg := NewRegistry()
	RegisterHandler(reg, 0, false, func(ctx context.Context, env gagent.EventEnvelope, p pingPayload) error {
		return nil
	})

	env := gagent.EventEnvelope{Payload: pingPayload{N: 1}}
	require.Empty(t, reg.Resolve(env, gagent.NewAgentId(), true))
	require.Len(t, reg.Resolve(env, gagent.NewAgentId(), false), 1)
}

func TestHasHandlersFor(t *testing.T) {
	reg := NewRegistry()
	require.False(t, reg.HasHandlersFor(pingPayload{}))
	RegisterHandler(reg, 0, true, func(ctx context.Context, env gagent.EventEnvelope, p pingPayload) error { return nil })
	require.True(t, reg.HasHandlersFor(pingPayload{}))
	require.False(t, reg.HasHandlersFor(pongPayload{}))
}
