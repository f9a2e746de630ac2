package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/actor"
	"github.com/gagentflow/gagent/handler"
	"github.com/gagentflow/gagent/store"
	"github.com/gagentflow/gagent/stream"
	"github.com/gagentflow/gagent/subscription"
)

type leafState struct{ Seen int }
type leafConfig struct{}

func newTestFactory() *Factory {
	streams := stream.NewRegistry(stream.DefaultConfig())
	subs := subscription.NewManager(streams)
	return New(streams, subs, nil, nil, actor.DefaultConfig())
}

func TestCreateActorRejectsDuplicateID(t *testing.T) {
	f := newTestFactory()
	f.RegisterType("leaf", handler.NewRegistry())
	ctx := context.Background()
	id := gagent.NewAgentId()

	deps := Dependencies[leafState, leafConfig]{StateStore: store.NewMemoryStateStore[leafState]()}
	_, err := CreateActor[leafState, leafConfig](ctx, f, "leaf", &id, deps)
	require.NoError(t, err)

	_, err = CreateActor[leafState, leafConfig](ctx, f, "leaf", &id, deps)
	require.True(t, gagent.IsDuplicateAgent(err))
}

func TestCreateActorAllocatesIDWhenAbsent(t *testing.T) {
	f := newTestFactory()
	f.RegisterType("leaf", handler.NewRegistry())
	ctx := context.Background()

	deps := Dependencies[leafState, leafConfig]{StateStore: store.NewMemoryStateStore[leafState]()}
	ref, err := CreateActor[leafState, leafConfig](ctx, f, "leaf", nil, deps)
	require.NoError(t, err)
	require.False(t, ref.ID().IsZero())

	_, ok := f.Get(ref.ID())
	require.True(t, ok)
}

func TestAttachWiresBidirectionalSubscriptions(t *testing.T) {
	f := newTestFactory()
	reg := handler.NewRegistry()

	var downReceived, upReceived int
	handler.RegisterHandler(reg, 0, false, func(ctx context.Context, env gagent.EventEnvelope, p string) error {
		if p == "down" {
			downReceived++
		} else {
			upReceived++
		}
		return nil
	})
	f.RegisterType("node", reg)

	ctx := context.Background()
	deps := Dependencies[leafState, leafConfig]{StateStore: store.NewMemoryStateStore[leafState]()}

	parentRef, err := CreateActor[leafState, leafConfig](ctx, f, "node", nil, deps)
	require.NoError(t, err)
	childRef, err := CreateActor[leafState, leafConfig](ctx, f, "node", nil, deps)
	require.NoError(t, err)

	require.NoError(t, f.Attach(ctx, parentRef, childRef))

	require.NoError(t, parentRef.Publish(ctx, "down", gagent.Down, ""))
	require.NoError(t, childRef.Publish(ctx, "up", gagent.Up, ""))
	time.Sleep(80 * time.Millisecond)

	require.Equal(t, 1, downReceived)
	require.Equal(t, 1, upReceived)
}

// TestAttachThreeLevelsDoesNotLeakAcrossLegs guards against a Down-only
// publish by the middle node reaching its grandparent (via the grandparent's
// Up leg subscribed to the same stream as the child's Down leg) or an Up-only
// publish reaching its grandchild, once a node has both a parent and a child
// subscribed to its one stream.
func TestAttachThreeLevelsDoesNotLeakAcrossLegs(t *testing.T) {
	f := newTestFactory()
	reg := handler.NewRegistry()

	var grandparentSeen, childSeen int
	handler.RegisterHandler(reg, 0, false, func(ctx context.Context, env gagent.EventEnvelope, p string) error {
		grandparentSeen++
		return nil
	})
	f.RegisterType("gp", reg)

	childReg := handler.NewRegistry()
	handler.RegisterHandler(childReg, 0, false, func(ctx context.Context, env gagent.EventEnvelope, p string) error {
		childSeen++
		return nil
	})
	f.RegisterType("leaf-listener", childReg)

	ctx := context.Background()
	deps := Dependencies[leafState, leafConfig]{StateStore: store.NewMemoryStateStore[leafState]()}

	grandparentRef, err := CreateActor[leafState, leafConfig](ctx, f, "gp", nil, deps)
	require.NoError(t, err)
	parentRef, err := CreateActor[leafState, leafConfig](ctx, f, "gp", nil, deps)
	require.NoError(t, err)
	childRef, err := CreateActor[leafState, leafConfig](ctx, f, "leaf-listener", nil, deps)
	require.NoError(t, err)

	require.NoError(t, f.Attach(ctx, grandparentRef, parentRef))
	require.NoError(t, f.Attach(ctx, parentRef, childRef))

	// parent's own stream now has two subscribers: child (Down leg) and
	// grandparent (Up leg). A Down-only publish from parent must reach only
	// the child, never the grandparent.
	require.NoError(t, parentRef.Publish(ctx, "down-only", gagent.Down, ""))
	time.Sleep(80 * time.Millisecond)

	require.Equal(t, 0, grandparentSeen, "grandparent must not observe a Down-only publish from its descendant")
	require.Equal(t, 1, childSeen)
}

func TestRemoveDeactivatesAndForgets(t *testing.T) {
	f := newTestFactory()
	f.RegisterType("leaf", handler.NewRegistry())
	ctx := context.Background()

	deps := Dependencies[leafState, leafConfig]{StateStore: store.NewMemoryStateStore[leafState]()}
	ref, err := CreateActor[leafState, leafConfig](ctx, f, "leaf", nil, deps)
	require.NoError(t, err)

	require.NoError(t, f.Remove(ctx, ref.ID()))
	_, ok := f.Get(ref.ID())
	require.False(t, ok)
}
