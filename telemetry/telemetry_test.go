package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordedCountersIncrement(t *testing.T) {
	r := New("gagent_test_counters", nil)

	r.RecordPublished("agent-1", "PingEvent")
	r.RecordHandled("agent-1", "PingEvent")
	r.RecordDropped("agent-1", "PingEvent", "backpressure")
	r.RecordException("publish")
	r.RecordDedupDuplicate("agent-1")

	require.Equal(t, float64(1), testutil.ToFloat64(r.eventsPublished.WithLabelValues("agent-1", "PingEvent")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.eventsHandled.WithLabelValues("agent-1", "PingEvent")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.eventsDropped.WithLabelValues("agent-1", "PingEvent", "backpressure")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.exceptions.WithLabelValues("publish")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.dedupDuplicates.WithLabelValues("agent-1")))
}

func TestGaugesSet(t *testing.T) {
	r := New("gagent_test_gauges", nil)
	r.SetActorsActive(3)
	r.SetStreamQueueLength("agent-1", 7)

	require.Equal(t, float64(3), testutil.ToFloat64(r.actorsActive))
	require.Equal(t, float64(7), testutil.ToFloat64(r.streamQueueLength.WithLabelValues("agent-1")))
}

func TestStartEventSpanReturnsScopedLoggerAndSpan(t *testing.T) {
	r := New("gagent_test_span", nil)
	ctx, span, logger := r.StartEventSpan(context.Background(), "agent-1", "evt-1", "PingEvent", "corr-1")
	require.NotNil(t, ctx)
	require.NotNil(t, logger)
	span.End()
}
