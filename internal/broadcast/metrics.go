package broadcast

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/trunkwatch/trunkwatch/internal/telemetry"
)

type engineMetrics struct {
	environment string

	publishedTotal  metric.Int64Counter
	deliveredTotal  metric.Int64Counter
	deniedTotal     metric.Int64Counter
	backfilledTotal metric.Int64Counter
	evictedTotal    metric.Int64Counter
	fanoutSize      metric.Int64Histogram
	activeTopics    metric.Int64UpDownCounter
}

func newEngineMetrics() *engineMetrics {
	meter := otel.Meter("broadcast")
	em := &engineMetrics{environment: telemetry.Environment()}

	em.publishedTotal, _ = meter.Int64Counter("trunkwatch_stream_published",
		metric.WithDescription("Transmissions published into the broadcast engine"),
		metric.WithUnit("{transmission}"))

	em.deliveredTotal, _ = meter.Int64Counter("trunkwatch_stream_delivered",
		metric.WithDescription("Transmissions written to subscriber transports"),
		metric.WithUnit("{transmission}"))

	em.deniedTotal, _ = meter.Int64Counter("trunkwatch_stream_denied",
		metric.WithDescription("Fanout deliveries suppressed by the access policy"),
		metric.WithUnit("{transmission}"))

	em.backfilledTotal, _ = meter.Int64Counter("trunkwatch_stream_backfilled",
		metric.WithDescription("Historical transmissions replayed during connect"),
		metric.WithUnit("{transmission}"))

	em.evictedTotal, _ = meter.Int64Counter("trunkwatch_stream_queue_evictions",
		metric.WithDescription("Queued transmissions evicted by slow subscribers"),
		metric.WithUnit("{transmission}"))

	em.fanoutSize, _ = meter.Int64Histogram("trunkwatch_stream_fanout_size",
		metric.WithDescription("Audience size per published transmission"),
		metric.WithUnit("{connection}"))

	em.activeTopics, _ = meter.Int64UpDownCounter("trunkwatch_stream_active_topics",
		metric.WithDescription("Scope topics with at least one subscriber"),
		metric.WithUnit("{topic}"))

	return em
}

func (em *engineMetrics) published(system string, fanout int) {
	if em == nil || em.publishedTotal == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(telemetry.SystemAttributes(em.environment, system)...)
	em.publishedTotal.Add(ctx, 1, attrs)
	if em.fanoutSize != nil {
		em.fanoutSize.Record(ctx, int64(fanout), attrs)
	}
}

func (em *engineMetrics) delivered(system string) {
	if em == nil || em.deliveredTotal == nil {
		return
	}
	em.deliveredTotal.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.SystemAttributes(em.environment, system)...))
}

func (em *engineMetrics) denied(system string) {
	if em == nil || em.deniedTotal == nil {
		return
	}
	em.deniedTotal.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.SystemAttributes(em.environment, system)...))
}

func (em *engineMetrics) backfilled(system string) {
	if em == nil || em.backfilledTotal == nil {
		return
	}
	em.backfilledTotal.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.SystemAttributes(em.environment, system)...))
}

func (em *engineMetrics) queueEvicted(system string) {
	if em == nil || em.evictedTotal == nil {
		return
	}
	em.evictedTotal.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.SystemAttributes(em.environment, system)...))
}

func (em *engineMetrics) topicOpened() {
	if em == nil || em.activeTopics == nil {
		return
	}
	em.activeTopics.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.AttrEnvironment.String(em.environment)))
}

func (em *engineMetrics) topicClosed() {
	if em == nil || em.activeTopics == nil {
		return
	}
	em.activeTopics.Add(context.Background(), -1,
		metric.WithAttributes(telemetry.AttrEnvironment.String(em.environment)))
}
