// Package telemetry implements the observability surface (C11): Prometheus
// counters/histograms/gauges plus OpenTelemetry tracing spans and structured
// log scopes, one promauto-registered vector per metric, scoped to the
// event-routing metric set (publish/dispatch/dedup/actor counts) rather than
// HTTP/LLM/db/cache metrics.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Recorder owns every metric and the tracer used across the runtime. One
// instance is shared process-wide.
type Recorder struct {
	logger *zap.Logger
	tracer trace.Tracer

	eventsPublished *prometheus.CounterVec
	eventsHandled   *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	exceptions      *prometheus.CounterVec
	dedupDuplicates *prometheus.CounterVec

	handleDuration  *prometheus.HistogramVec
	publishDuration *prometheus.HistogramVec

	actorsActive      prometheus.Gauge
	streamQueueLength *prometheus.GaugeVec
}

// New constructs a Recorder registering its metrics under namespace (e.g.
// "gagent"), and a tracer named the same.
func New(namespace string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		logger: logger.With(zap.String("component", "telemetry")),
		tracer: otel.Tracer(namespace),
	}

	r.eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_published_total", Help: "Total envelopes published by an agent.",
	}, []string{"agent_id", "event_type"})

	r.eventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_handled_total", Help: "Total envelopes dispatched to an agent's handlers after dedup.",
	}, []string{"agent_id", "event_type"})

	r.eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_dropped_total", Help: "Total envelopes dropped before handling.",
	}, []string{"agent_id", "event_type", "reason"})

	r.exceptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "exceptions_total", Help: "Total exceptions raised by operation.",
	}, []string{"operation"})

	r.dedupDuplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dedup_duplicates_total", Help: "Total duplicate envelope ids rejected.",
	}, []string{"agent_id"})

	r.handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "event_handle_duration_ms", Help: "Handler dispatch duration in milliseconds.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"agent_id", "event_type"})

	r.publishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "event_publish_duration_ms", Help: "Publish call duration in milliseconds.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"agent_id", "event_type"})

	r.actorsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "actors_active", Help: "Number of currently activated actors.",
	})

	r.streamQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "stream_queue_length", Help: "Current buffered envelope count per agent stream.",
	}, []string{"agent_id"})

	return r
}

func (r *Recorder) RecordPublished(agentID, eventType string) {
	r.eventsPublished.WithLabelValues(agentID, eventType).Inc()
}

func (r *Recorder) RecordHandled(agentID, eventType string) {
	r.eventsHandled.WithLabelValues(agentID, eventType).Inc()
}

func (r *Recorder) RecordDropped(agentID, eventType, reason string) {
	r.eventsDropped.WithLabelValues(agentID, eventType, reason).Inc()
}

func (r *Recorder) RecordException(operation string) {
	r.exceptions.WithLabelValues(operation).Inc()
}

func (r *Recorder) RecordDedupDuplicate(agentID string) {
	r.dedupDuplicates.WithLabelValues(agentID).Inc()
}

func (r *Recorder) ObserveHandleDuration(agentID, eventType string, d time.Duration) {
	r.handleDuration.WithLabelValues(agentID, eventType).Observe(float64(d.Microseconds()) / 1000.0)
}

func (r *Recorder) ObservePublishDuration(agentID, eventType string, d time.Duration) {
	r.publishDuration.WithLabelValues(agentID, eventType).Observe(float64(d.Microseconds()) / 1000.0)
}

func (r *Recorder) SetActorsActive(n int) {
	r.actorsActive.Set(float64(n))
}

func (r *Recorder) SetStreamQueueLength(agentID string, n int) {
	r.streamQueueLength.WithLabelValues(agentID).Set(float64(n))
}

// StartEventSpan opens a trace span for one envelope's handling and returns a
// logger scoped with the same correlating fields, matching the
// {agent_id, event_id, event_type, correlation_id} structured log scope §4.11
// requires. Callers must end the returned span when handling completes.
func (r *Recorder) StartEventSpan(ctx context.Context, agentID, eventID, eventType, correlationID string) (context.Context, trace.Span, *zap.Logger) {
	ctx, span := r.tracer.Start(ctx, "gagent.handle_event", trace.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("event_id", eventID),
		attribute.String("event_type", eventType),
		attribute.String("correlation_id", correlationID),
	))
	scoped := r.logger.With(
		zap.String("agent_id", agentID),
		zap.String("event_id", eventID),
		zap.String("event_type", eventType),
		zap.String("correlation_id", correlationID),
	)
	return ctx, span, scoped
}
