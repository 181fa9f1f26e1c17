package waitingroom

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const metricsScopeName = "github.com/antoinedelia/waiting-room"

var defaultHistogramBuckets = []float64{
	.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

type processorMetrics struct {
	meter            metric.Meter
	messagesReceived metric.Int64Counter
	entriesPromoted  metric.Int64Counter
	entriesExpired   metric.Int64Counter
	tickLatency      metric.Float64Histogram
}

func newProcessorMetrics(provider metric.MeterProvider) (*processorMetrics, error) {
	meter := provider.Meter(metricsScopeName)
	messagesReceived, err := meter.Int64Counter("waitingroom.processor.messages_received")
	if err != nil {
		return nil, err
	}
	entriesPromoted, err := meter.Int64Counter("waitingroom.processor.entries_promoted")
	if err != nil {
		return nil, err
	}
	entriesExpired, err := meter.Int64Counter("waitingroom.processor.entries_expired")
	if err != nil {
		return nil, err
	}
	tickLatency, err := meter.Float64Histogram("waitingroom.processor.tick_latency",
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(defaultHistogramBuckets...))
	if err != nil {
		return nil, err
	}
	return &processorMetrics{
		meter:            meter,
		messagesReceived: messagesReceived,
		entriesPromoted:  entriesPromoted,
		entriesExpired:   entriesExpired,
		tickLatency:      tickLatency,
	}, nil
}

func (m *processorMetrics) recordMessagesReceived(ctx context.Context, received int64) {
	m.messagesReceived.Add(ctx, received)
}

func (m *processorMetrics) recordEntriesPromoted(ctx context.Context, promoted int64) {
	m.entriesPromoted.Add(ctx, promoted)
}

func (m *processorMetrics) recordEntriesExpired(ctx context.Context, expired int64) {
	m.entriesExpired.Add(ctx, expired)
}

func (m *processorMetrics) recordTickLatency(ctx context.Context, latency time.Duration) {
	m.tickLatency.Record(ctx, latency.Seconds())
}
