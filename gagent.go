// Package gagent provides the runtime for stateful, hierarchically composed agents
// ("GAgents") that communicate exclusively through typed events. Agent state is
// either snapshotted or reconstructed by replaying an event log.
//
// The package root holds the identity and envelope types (AgentId, AgentType,
// EventEnvelope, Direction) that every other package in this module builds on.
// Subpackages implement one concern each, following the same split the rest of this
// codebase uses for persistence, channels, and metrics:
//
//	store        persistence: state, config, and event-sourcing stores
//	dedup        bounded, time-windowed event id deduplication
//	stream       per-agent bounded message stream and stream registry
//	handler      compile-time handler registration and dispatch ordering
//	kernel       the agent base: lifecycle, hierarchy, publish/dispatch
//	actor        single-threaded serialization wrapper around a kernel
//	subscription parent->child stream subscriptions with retry and health checks
//	factory      agent construction, dependency injection, duplicate detection
//	runtime      process-wide composition root
//	telemetry    prometheus metrics and OpenTelemetry tracing
package gagent
