// Package runtime implements the composition root (C10): it registers C1-C9
// as process-wide collaborators behind one "add runtime" entry point, per the
// teacher's quicksetup-style bootstrap helpers (formerly agent/runtime), and
// adds the supplemental RuntimeConfig-driven store selection, a periodic
// collaborator health-check loop, and a point-in-time Snapshot used by
// operators and tests alike.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gagentflow/gagent"
	"github.com/gagentflow/gagent/actor"
	"github.com/gagentflow/gagent/config"
	"github.com/gagentflow/gagent/factory"
	otelboot "github.com/gagentflow/gagent/internal/telemetry"
	"github.com/gagentflow/gagent/stream"
	"github.com/gagentflow/gagent/subscription"
	"github.com/gagentflow/gagent/telemetry"
)

// Runtime bundles the shared, process-wide collaborators every agent type
// draws from. Multiple Runtime instances may coexist in a process (e.g. one
// per distributed-runtime flavor per §4.10) as long as each exposes this same
// composition surface.
type Runtime struct {
	Config        config.RuntimeConfig
	Logger        *zap.Logger
	Streams       *stream.Registry
	Subscriptions *subscription.Manager
	Telemetry     *telemetry.Recorder
	Factory       *factory.Factory

	otel *otelboot.Providers

	mu           sync.Mutex
	healthChecks map[string]func(ctx context.Context) error
}

// New wires the composition root from a validated RuntimeConfig.
func New(cfg config.RuntimeConfig, logger *zap.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	streamCfg := stream.Config{Capacity: cfg.Stream.ChannelCapacity, ProduceDeadline: cfg.Stream.ProduceDeadline}
	streams := stream.NewRegistry(streamCfg)
	subs := subscription.NewManager(streams)

	var rec *telemetry.Recorder
	providers, err := otelboot.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("runtime: init telemetry: %w", err)
	}
	if cfg.Telemetry.Enabled {
		rec = telemetry.New(cfg.Telemetry.ServiceName, logger)
	}

	actorCfg := actor.DefaultConfig()
	f := factory.New(streams, subs, rec, logger, actorCfg)

	rt := &Runtime{
		Config:        cfg,
		Logger:        logger,
		Streams:       streams,
		Subscriptions: subs,
		Telemetry:     rec,
		Factory:       f,
		otel:          providers,
		healthChecks:  make(map[string]func(ctx context.Context) error),
	}

	subs.CycleChecker = rt.wouldCreateCycle
	return rt, nil
}

// wouldCreateCycle reports whether attaching subscriberID as a downstream
// observer of streamOwnerID's stream would close a cycle, by checking whether
// streamOwnerID is already reachable by walking subscriberID's existing
// downward (child-subscribes-to-parent) subscriptions back toward its roots.
// This is necessarily conservative: it only sees edges already registered in
// the subscription manager, which is exactly the graph §3's invariant governs.
func (rt *Runtime) wouldCreateCycle(streamOwnerID, subscriberID gagent.AgentId) bool {
	if streamOwnerID == subscriberID {
		return true
	}
	ancestors := map[gagent.AgentId]gagent.AgentId{}
	for _, h := range rt.Subscriptions.GetActive() {
		ancestors[h.Key.SubscriberID] = h.Key.StreamOwnerID
	}
	cur := streamOwnerID
	for i := 0; i < len(ancestors)+1; i++ {
		parent, ok := ancestors[cur]
		if !ok {
			return false
		}
		if parent == subscriberID {
			return true
		}
		cur = parent
	}
	return false
}

// RegisterHealthCheck adds a named collaborator probe (store ping, broker
// connectivity) run by StartHealthChecks.
func (rt *Runtime) RegisterHealthCheck(name string, ping func(ctx context.Context) error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.healthChecks[name] = ping
}

// StartHealthChecks runs the subscription manager's reconnect loop and every
// registered collaborator probe on interval, until ctx is done.
func (rt *Runtime) StartHealthChecks(ctx context.Context, interval time.Duration) {
	rt.Subscriptions.StartHealthCheck(ctx, interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rt.mu.Lock()
				checks := make(map[string]func(ctx context.Context) error, len(rt.healthChecks))
				for name, fn := range rt.healthChecks {
					checks[name] = fn
				}
				rt.mu.Unlock()
				for name, fn := range checks {
					if err := fn(ctx); err != nil {
						rt.Logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
						if rt.Telemetry != nil {
							rt.Telemetry.RecordException(fmt.Sprintf("health_check.%s", name))
						}
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Snapshot is a point-in-time summary of runtime-wide state, useful for
// diagnostics endpoints and tests.
type Snapshot struct {
	ActiveAgents        int
	ActiveSubscriptions int
	ActiveStreams       int
	TakenAt             time.Time
}

// Snapshot captures the current counts. TakenAt is stamped by the caller.
func (rt *Runtime) Snapshot(takenAt time.Time) Snapshot {
	return Snapshot{
		ActiveAgents:        rt.Factory.Len(),
		ActiveSubscriptions: len(rt.Subscriptions.GetActive()),
		ActiveStreams:       rt.Streams.Len(),
		TakenAt:             takenAt,
	}
}

// Shutdown flushes the OTel SDK's pending spans and metrics and closes its
// exporters. Safe to call even when telemetry was disabled at New.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	return rt.otel.Shutdown(ctx)
}
