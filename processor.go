package waitingroom

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/antoinedelia/waiting-room/pkg/messaging"
	"github.com/antoinedelia/waiting-room/pkg/statestore"
	"github.com/antoinedelia/waiting-room/pkg/wrlog"
)

const (
	DefaultBatchSize   int64 = 10
	DefaultReceiveWait       = 1 * time.Second
)

type ProcessorOption interface {
	apply(opts *processorOptions)
}

type ProcessorOptionFunc func(*processorOptions)

func (f ProcessorOptionFunc) apply(opts *processorOptions) {
	f(opts)
}

// WithBatchSize bounds how many waiting tokens one admission cycle promotes.
func WithBatchSize(size int64) ProcessorOption {
	return ProcessorOptionFunc(func(opts *processorOptions) {
		opts.batchSize = size
	})
}

// WithReceiveWait sets how long one cycle waits on a momentarily empty
// channel before returning with no side effects.
func WithReceiveWait(wait time.Duration) ProcessorOption {
	return ProcessorOptionFunc(func(opts *processorOptions) {
		opts.receiveWait = wait
	})
}

// WithProcessorMeterProvider provides OpenTelemetry meter provider
func WithProcessorMeterProvider(provider metric.MeterProvider) ProcessorOption {
	return ProcessorOptionFunc(func(opts *processorOptions) {
		opts.meterProvider = provider
	})
}

type processorOptions struct {
	batchSize     int64
	receiveWait   time.Duration
	meterProvider metric.MeterProvider
}

func defaultProcessorOptions() *processorOptions {
	return &processorOptions{
		batchSize:     DefaultBatchSize,
		receiveWait:   DefaultReceiveWait,
		meterProvider: otel.GetMeterProvider(),
	}
}

// Processor drains admission notifications in bounded batches and promotes
// the referenced queue entries to ALLOWED. Every step is idempotent, so
// overlapping invocations and message redelivery are safe by construction;
// no mutual exclusion is enforced.
type Processor struct {
	store   statestore.Store
	channel messaging.Channel
	options *processorOptions
	metrics *processorMetrics
}

func NewProcessor(store statestore.Store, channel messaging.Channel, options ...ProcessorOption) (*Processor, error) {
	opts := defaultProcessorOptions()
	for _, o := range options {
		o.apply(opts)
	}
	metrics, err := newProcessorMetrics(opts.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor metrics: %w", err)
	}
	return &Processor{
		store:   store,
		channel: channel,
		options: opts,
		metrics: metrics,
	}, nil
}

// Run triggers an admission cycle every period until the context ends.
// A failed cycle is logged and retried on the next tick; promotion is
// idempotent, so reprocessing is always safe.
func (p *Processor) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	wrlog.Infof("admission processor started (batchSize: %d, period: %s)", p.options.batchSize, period)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				wrlog.Errorf("admission cycle failed: %+v", err)
			}
		}
	}
}

// Tick performs one admission cycle. Messages whose entry was promoted or
// had already expired are acknowledged in one batch; messages that failed
// for a transient store reason are left for redelivery.
func (p *Processor) Tick(ctx context.Context) error {
	start := time.Now()
	messages, err := p.channel.ReceiveBatch(ctx, p.options.batchSize, p.options.receiveWait)
	if err != nil {
		return fmt.Errorf("failed to receive batch: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}
	p.metrics.recordMessagesReceived(ctx, int64(len(messages)))

	var acks []string
	var promoted, expired int64
	var transient int
	var lastErr error
	for _, msg := range messages {
		if msg.Token == "" {
			// nothing can ever be promoted from this message; drop it
			wrlog.Warnf("dropping message %s with no token", msg.ID)
			acks = append(acks, msg.ID)
			continue
		}
		outcome, err := p.store.PromoteEntry(ctx, msg.Token)
		if err != nil {
			transient++
			lastErr = err
			wrlog.Errorf("failed to promote entry for token %s, leaving message for redelivery: %+v", msg.Token, err)
			continue
		}
		switch outcome {
		case statestore.OutcomePromoted:
			promoted++
		case statestore.OutcomeNotFound:
			// entry expired out of the store: the message is stale and
			// safe to drop
			expired++
		}
		acks = append(acks, msg.ID)
	}
	p.metrics.recordEntriesPromoted(ctx, promoted)
	p.metrics.recordEntriesExpired(ctx, expired)

	if len(acks) > 0 {
		if err := p.channel.DeleteBatch(ctx, acks); err != nil {
			// tolerated: unacknowledged successes are reprocessed and
			// re-acknowledged on a later cycle
			wrlog.Warnf("failed to acknowledge %d messages: %+v", len(acks), err)
		}
	}
	if transient == len(messages) {
		return fmt.Errorf("all %d messages failed transiently: %w", transient, lastErr)
	}
	p.metrics.recordTickLatency(ctx, time.Since(start))
	return nil
}
