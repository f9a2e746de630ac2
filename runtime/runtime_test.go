package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/config"
	"github.com/gagentflow/gagent/factory"
	"github.com/gagentflow/gagent/handler"
	"github.com/gagentflow/gagent/store"
	"github.com/gagentflow/gagent/subscription"
)

type nodeState struct{ Count int }
type nodeConfig struct{}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := *config.DefaultRuntimeConfig()
	cfg.Store.Backend = "bogus"
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestSnapshotReflectsLiveAgents(t *testing.T) {
	cfg := *config.DefaultRuntimeConfig()
	rt, err := New(cfg, nil)
	require.NoError(t, err)

	rt.Factory.RegisterType("node", handler.NewRegistry())
	ctx := context.Background()
	deps := factory.Dependencies[nodeState, nodeConfig]{StateStore: store.NewMemoryStateStore[nodeState]()}
	_, err = factory.CreateActor[nodeState, nodeConfig](ctx, rt.Factory, "node", nil, deps)
	require.NoError(t, err)

	snap := rt.Snapshot(time.Now())
	require.Equal(t, 1, snap.ActiveAgents)
}

func TestWouldCreateCycleDetectsSelfAndTransitive(t *testing.T) {
	cfg := *config.DefaultRuntimeConfig()
	rt, err := New(cfg, nil)
	require.NoError(t, err)

	a := gagent.NewAgentId()
	require.True(t, rt.wouldCreateCycle(a, a))

	// b subscribes to a's stream and c to b's, so a is c's grandparent: a
	// subscribing to c's stream closes a cycle, c subscribing to a's does not.
	b := gagent.NewAgentId()
	c := gagent.NewAgentId()
	rt.Streams.GetOrCreate(a)
	rt.Streams.GetOrCreate(b)
	noop := func(gagent.EventEnvelope) {}
	_, err = rt.Subscriptions.Subscribe(context.Background(), a, b, noop, gagent.Down, subscription.DefaultRetryPolicy())
	require.NoError(t, err)
	_, err = rt.Subscriptions.Subscribe(context.Background(), b, c, noop, gagent.Down, subscription.DefaultRetryPolicy())
	require.NoError(t, err)
	require.True(t, rt.wouldCreateCycle(c, a))
	require.False(t, rt.wouldCreateCycle(a, c))
}

func TestRegisterHealthCheckRunsOnInterval(t *testing.T) {
	cfg := *config.DefaultRuntimeConfig()
	rt, err := New(cfg, nil)
	require.NoError(t, err)

	calls := make(chan struct{}, 4)
	rt.RegisterHealthCheck("probe", func(ctx context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.StartHealthChecks(ctx, 20*time.Millisecond)

	select {
	case <-calls:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("health check never ran")
	}
}
