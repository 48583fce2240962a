package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service's metric instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	cycles         metric.Int64Counter
	cycleDuration  metric.Float64Histogram
	statusUpdates  metric.Int64Counter
	memberUpdates  metric.Int64Counter
	chatReplies    metric.Int64Counter
	itemsRejected  metric.Int64Counter
	snapshotRate   metric.Float64Gauge
	activeSessions metric.Int64UpDownCounter
}

// NewMetrics creates every instrument on meter. A nil meter uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	if m.cycles, err = meter.Int64Counter("worldsync.snapshot.cycles",
		metric.WithDescription("Snapshot cycles processed"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create cycles counter: %w", err)
	}
	if m.cycleDuration, err = meter.Float64Histogram("worldsync.snapshot.duration",
		metric.WithDescription("Snapshot cycle duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create cycle histogram: %w", err)
	}
	if m.statusUpdates, err = meter.Int64Counter("worldsync.status.updates",
		metric.WithDescription("Status block pushes by outcome"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create status counter: %w", err)
	}
	if m.memberUpdates, err = meter.Int64Counter("worldsync.group.member_updates",
		metric.WithDescription("Group member upserts by outcome"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create member counter: %w", err)
	}
	if m.chatReplies, err = meter.Int64Counter("worldsync.chat.replies",
		metric.WithDescription("Chat replies by responder and outcome"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create chat counter: %w", err)
	}
	if m.itemsRejected, err = meter.Int64Counter("worldsync.queue.rejected",
		metric.WithDescription("Ingested items rejected by validation"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}
	if m.snapshotRate, err = meter.Float64Gauge("worldsync.queue.snapshot_rate",
		metric.WithDescription("Snapshot arrival rate over the sliding window"),
		metric.WithUnit("1/s")); err != nil {
		return nil, fmt.Errorf("create rate gauge: %w", err)
	}
	if m.activeSessions, err = meter.Int64UpDownCounter("worldsync.conversation.active",
		metric.WithDescription("Active conversation sessions"),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create sessions counter: %w", err)
	}
	return m, nil
}

func outcome(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("outcome", "success")
	}
	return attribute.String("outcome", "failure")
}

// RecordCycle records one processed snapshot cycle.
func (m *Metrics) RecordCycle(ctx context.Context, entities int, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Add(ctx, 1)
	m.cycleDuration.Record(ctx, float64(d.Microseconds())/1000,
		metric.WithAttributes(attribute.Int("entities", entities)))
}

// RecordStatusUpdate counts a status block push.
func (m *Metrics) RecordStatusUpdate(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.statusUpdates.Add(ctx, 1, metric.WithAttributes(outcome(ok)))
}

// RecordMemberUpdates counts member upserts of one batch.
func (m *Metrics) RecordMemberUpdates(ctx context.Context, succeeded, failed int) {
	if m == nil {
		return
	}
	if succeeded > 0 {
		m.memberUpdates.Add(ctx, int64(succeeded), metric.WithAttributes(outcome(true)))
	}
	if failed > 0 {
		m.memberUpdates.Add(ctx, int64(failed), metric.WithAttributes(outcome(false)))
	}
}

// RecordChat counts a chat reply.
func (m *Metrics) RecordChat(ctx context.Context, responder string, ok bool) {
	if m == nil {
		return
	}
	m.chatReplies.Add(ctx, 1, metric.WithAttributes(attribute.String("responder", responder), outcome(ok)))
}

// RecordRejected counts an item rejected at ingestion.
func (m *Metrics) RecordRejected(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.itemsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSnapshotRate sets the current snapshot arrival rate.
func (m *Metrics) RecordSnapshotRate(ctx context.Context, rate float64) {
	if m == nil {
		return
	}
	m.snapshotRate.Record(ctx, rate)
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
