package waitingroom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoinedelia/waiting-room/pkg/messaging"
	"github.com/antoinedelia/waiting-room/pkg/statestore"
)

type stubStore struct {
	statestore.Store
	promote      func(ctx context.Context, token string) (statestore.PromoteOutcome, error)
	promoteCalls int
}

func (s *stubStore) PromoteEntry(ctx context.Context, token string) (statestore.PromoteOutcome, error) {
	s.promoteCalls++
	return s.promote(ctx, token)
}

type stubChannel struct {
	messaging.Channel
	messages  []*messaging.Message
	receives  int
	acked     []string
	deleteErr error
}

func (c *stubChannel) ReceiveBatch(ctx context.Context, maxCount int64, wait time.Duration) ([]*messaging.Message, error) {
	c.receives++
	return c.messages, nil
}

func (c *stubChannel) DeleteBatch(ctx context.Context, ids []string) error {
	c.acked = append(c.acked, ids...)
	return c.deleteErr
}

func newTestProcessor(t *testing.T, f *frontendFixture, opts ...ProcessorOption) *Processor {
	t.Helper()
	opts = append([]ProcessorOption{WithReceiveWait(0)}, opts...)
	processor, err := NewProcessor(f.store, f.channel, opts...)
	require.NoError(t, err)
	return processor
}

func TestProcessorPromotesBatch(t *testing.T) {
	f := newFrontendFixture(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		join, err := f.frontend.JoinQueue(ctx)
		require.NoError(t, err)
		tokens = append(tokens, join.Token)
	}

	processor := newTestProcessor(t, f)
	require.NoError(t, processor.Tick(ctx))

	for _, token := range tokens {
		entry, err := f.store.GetEntry(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, statestore.StatusAllowed, entry.Status)
	}
	nowServing, err := f.store.NowServing(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nowServing)

	// every message was acknowledged
	messages, err := f.channel.ReceiveBatch(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestProcessorBatchSizeBound(t *testing.T) {
	f := newFrontendFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.frontend.JoinQueue(ctx)
		require.NoError(t, err)
	}

	processor := newTestProcessor(t, f, WithBatchSize(2))
	require.NoError(t, processor.Tick(ctx))

	nowServing, err := f.store.NowServing(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), nowServing)

	// remaining tokens drain over subsequent cycles
	require.NoError(t, processor.Tick(ctx))
	require.NoError(t, processor.Tick(ctx))
	nowServing, err = f.store.NowServing(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), nowServing)
}

func TestProcessorEmptyChannel(t *testing.T) {
	store := &stubStore{promote: func(context.Context, string) (statestore.PromoteOutcome, error) {
		return statestore.OutcomePromoted, nil
	}}
	channel := &stubChannel{}
	processor, err := NewProcessor(store, channel, WithReceiveWait(0))
	require.NoError(t, err)

	require.NoError(t, processor.Tick(context.Background()))
	assert.Zero(t, store.promoteCalls)
	assert.Empty(t, channel.acked)
}

func TestProcessorExpiredEntry(t *testing.T) {
	f := newFrontendFixture(t, WithEntryTTL(time.Second))
	ctx := context.Background()

	join, err := f.frontend.JoinQueue(ctx)
	require.NoError(t, err)
	f.mr.FastForward(2 * time.Second)

	processor := newTestProcessor(t, f)
	require.NoError(t, processor.Tick(ctx))

	// the stale message was dropped without resurrecting the entry
	_, err = f.store.GetEntry(ctx, join.Token)
	assert.ErrorIs(t, err, statestore.ErrEntryNotFound)
	messages, err := f.channel.ReceiveBatch(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestProcessorDuplicateDelivery(t *testing.T) {
	f := newFrontendFixture(t)
	ctx := context.Background()

	join, err := f.frontend.JoinQueue(ctx)
	require.NoError(t, err)
	// simulate at-least-once redelivery of the same notification
	require.NoError(t, f.channel.Publish(ctx, "main", messaging.Notification{
		Token:        join.Token,
		TicketNumber: join.TicketNumber,
	}))

	processor := newTestProcessor(t, f)
	require.NoError(t, processor.Tick(ctx))

	entry, err := f.store.GetEntry(ctx, join.Token)
	require.NoError(t, err)
	assert.Equal(t, statestore.StatusAllowed, entry.Status)
	nowServing, err := f.store.NowServing(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nowServing)
}

func TestProcessorTransientFailureLeavesMessage(t *testing.T) {
	store := &stubStore{promote: func(ctx context.Context, token string) (statestore.PromoteOutcome, error) {
		if token == "flaky" {
			return 0, errors.New("store unavailable")
		}
		return statestore.OutcomePromoted, nil
	}}
	channel := &stubChannel{messages: []*messaging.Message{
		{ID: "1-0", Notification: messaging.Notification{Token: "flaky", TicketNumber: 1}},
		{ID: "2-0", Notification: messaging.Notification{Token: "healthy", TicketNumber: 2}},
	}}
	processor, err := NewProcessor(store, channel, WithReceiveWait(0))
	require.NoError(t, err)

	// a partial failure is not a cycle failure
	require.NoError(t, processor.Tick(context.Background()))
	assert.Equal(t, []string{"2-0"}, channel.acked)
}

func TestProcessorAllTransientFailures(t *testing.T) {
	store := &stubStore{promote: func(context.Context, string) (statestore.PromoteOutcome, error) {
		return 0, errors.New("store unavailable")
	}}
	channel := &stubChannel{messages: []*messaging.Message{
		{ID: "1-0", Notification: messaging.Notification{Token: "a", TicketNumber: 1}},
		{ID: "2-0", Notification: messaging.Notification{Token: "b", TicketNumber: 2}},
	}}
	processor, err := NewProcessor(store, channel, WithReceiveWait(0))
	require.NoError(t, err)

	err = processor.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
	assert.Empty(t, channel.acked)
}

func TestProcessorDropsTokenlessMessage(t *testing.T) {
	store := &stubStore{promote: func(context.Context, string) (statestore.PromoteOutcome, error) {
		return statestore.OutcomePromoted, nil
	}}
	channel := &stubChannel{messages: []*messaging.Message{
		{ID: "1-0", Notification: messaging.Notification{TicketNumber: 1}},
	}}
	processor, err := NewProcessor(store, channel, WithReceiveWait(0))
	require.NoError(t, err)

	require.NoError(t, processor.Tick(context.Background()))
	assert.Zero(t, store.promoteCalls)
	assert.Equal(t, []string{"1-0"}, channel.acked)
}

func TestProcessorAckFailureTolerated(t *testing.T) {
	store := &stubStore{promote: func(context.Context, string) (statestore.PromoteOutcome, error) {
		return statestore.OutcomePromoted, nil
	}}
	channel := &stubChannel{
		messages:  []*messaging.Message{{ID: "1-0", Notification: messaging.Notification{Token: "a", TicketNumber: 1}}},
		deleteErr: errors.New("ack failed"),
	}
	processor, err := NewProcessor(store, channel, WithReceiveWait(0))
	require.NoError(t, err)

	// the promotion stuck; redelivery of the unacknowledged message is safe
	require.NoError(t, processor.Tick(context.Background()))
}

func TestProcessorRedeliveryAfterTransientFailure(t *testing.T) {
	f := newFrontendFixture(t)
	ctx := context.Background()

	join, err := f.frontend.JoinQueue(ctx)
	require.NoError(t, err)

	failures := 1
	store := &stubStore{Store: f.store}
	store.promote = func(ctx context.Context, token string) (statestore.PromoteOutcome, error) {
		if failures > 0 {
			failures--
			return 0, errors.New("store unavailable")
		}
		return f.store.PromoteEntry(ctx, token)
	}
	processor, err := NewProcessor(store, f.channel, WithReceiveWait(0))
	require.NoError(t, err)

	require.Error(t, processor.Tick(ctx))
	require.NoError(t, processor.Tick(ctx))

	entry, err := f.store.GetEntry(ctx, join.Token)
	require.NoError(t, err)
	assert.Equal(t, statestore.StatusAllowed, entry.Status)
}
