package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

const (
	DefaultStream            = "queue_notifications"
	DefaultConsumerGroup     = "admission"
	DefaultVisibilityTimeout = 30 * time.Second

	fieldToken  = "token"
	fieldTicket = "ticketNumber"
	fieldGroup  = "group"
)

type RedisChannel struct {
	client   *redis.Client
	consumer string
	opts     *redisChannelOpts
}

type redisChannelOpts struct {
	stream            string
	consumerGroup     string
	visibilityTimeout time.Duration
}

func defaultRedisChannelOpts() *redisChannelOpts {
	return &redisChannelOpts{
		stream:            DefaultStream,
		consumerGroup:     DefaultConsumerGroup,
		visibilityTimeout: DefaultVisibilityTimeout,
	}
}

type RedisChannelOption interface {
	apply(opts *redisChannelOpts)
}

type RedisChannelOptionFunc func(opts *redisChannelOpts)

func (f RedisChannelOptionFunc) apply(opts *redisChannelOpts) {
	f(opts)
}

func WithStream(stream string) RedisChannelOption {
	return RedisChannelOptionFunc(func(opts *redisChannelOpts) {
		opts.stream = stream
	})
}

func WithConsumerGroup(group string) RedisChannelOption {
	return RedisChannelOptionFunc(func(opts *redisChannelOpts) {
		opts.consumerGroup = group
	})
}

// WithVisibilityTimeout sets how long a received-but-unacknowledged message
// stays invisible before it may be claimed again by another receive.
func WithVisibilityTimeout(timeout time.Duration) RedisChannelOption {
	return RedisChannelOptionFunc(func(opts *redisChannelOpts) {
		opts.visibilityTimeout = timeout
	})
}

// NewRedisChannel builds a stream-backed channel. Each RedisChannel gets a
// unique consumer name within the consumer group, so unacknowledged
// messages of a crashed process are reclaimed by the survivors.
func NewRedisChannel(client *redis.Client, opts ...RedisChannelOption) *RedisChannel {
	ro := defaultRedisChannelOpts()
	for _, o := range opts {
		o.apply(ro)
	}
	return &RedisChannel{
		client:   client,
		consumer: xid.New().String(),
		opts:     ro,
	}
}

func (c *RedisChannel) Publish(ctx context.Context, group string, n Notification) error {
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.opts.stream,
		Values: map[string]interface{}{
			fieldToken:  n.Token,
			fieldTicket: strconv.FormatUint(n.TicketNumber, 10),
			fieldGroup:  group,
		},
	}).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (c *RedisChannel) ReceiveBatch(ctx context.Context, maxCount int64, wait time.Duration) ([]*Message, error) {
	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}

	// reclaim messages whose previous receiver never acknowledged them
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.opts.stream,
		Group:    c.opts.consumerGroup,
		Consumer: c.consumer,
		MinIdle:  c.opts.visibilityTimeout,
		Start:    "0-0",
		Count:    maxCount,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim pending messages: %w", err)
	}
	messages := decodeMessages(claimed)

	remaining := maxCount - int64(len(messages))
	if remaining <= 0 {
		return messages, nil
	}

	block := wait
	if block <= 0 {
		block = -1 // do not block
	}
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.consumerGroup,
		Consumer: c.consumer,
		Streams:  []string{c.opts.stream, ">"},
		Count:    remaining,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return messages, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	for _, stream := range streams {
		messages = append(messages, decodeMessages(stream.Messages)...)
	}
	return messages, nil
}

func (c *RedisChannel) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := p.XAck(ctx, c.opts.stream, c.opts.consumerGroup, ids...).Err(); err != nil {
			return err
		}
		if err := p.XDel(ctx, c.opts.stream, ids...).Err(); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to acknowledge messages: %w", err)
	}
	return nil
}

func (c *RedisChannel) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.stream, c.opts.consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func decodeMessages(xmsgs []redis.XMessage) []*Message {
	var messages []*Message
	for _, m := range xmsgs {
		messages = append(messages, decodeMessage(m))
	}
	return messages
}

func decodeMessage(m redis.XMessage) *Message {
	msg := &Message{ID: m.ID}
	if v, ok := m.Values[fieldToken].(string); ok {
		msg.Token = v
	}
	if v, ok := m.Values[fieldTicket].(string); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			msg.TicketNumber = n
		}
	}
	if v, ok := m.Values[fieldGroup].(string); ok {
		msg.Group = v
	}
	return msg
}
