package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCycle(ctx, 3, 15*time.Millisecond)
	m.RecordCycle(ctx, 1, 5*time.Millisecond)
	m.RecordStatusUpdate(ctx, true)
	m.RecordStatusUpdate(ctx, false)
	m.RecordMemberUpdates(ctx, 2, 1)
	m.RecordChat(ctx, "llm", true)
	m.RecordRejected(ctx, "snapshot")
	m.RecordSnapshotRate(ctx, 1.5)
	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["worldsync.snapshot.cycles"]))
	assert.Equal(t, int64(2), sumOf(t, got["worldsync.status.updates"]))
	assert.Equal(t, int64(3), sumOf(t, got["worldsync.group.member_updates"]))
	assert.Equal(t, int64(1), sumOf(t, got["worldsync.chat.replies"]))
	assert.Equal(t, int64(1), sumOf(t, got["worldsync.queue.rejected"]))
	assert.Equal(t, int64(1), sumOf(t, got["worldsync.conversation.active"]))

	hist, ok := got["worldsync.snapshot.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)

	gauge, ok := got["worldsync.queue.snapshot_rate"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.InDelta(t, 1.5, gauge.DataPoints[0].Value, 1e-9)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordCycle(ctx, 1, time.Second)
		m.RecordStatusUpdate(ctx, true)
		m.RecordMemberUpdates(ctx, 1, 1)
		m.RecordChat(ctx, "agent", false)
		m.RecordRejected(ctx, "chat")
		m.RecordSnapshotRate(ctx, 0)
		m.SessionStarted(ctx)
		m.SessionEnded(ctx)
	})
}

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
