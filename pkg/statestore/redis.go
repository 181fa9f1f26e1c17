package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultCounterKey is the reserved store key holding the ticket
	// sequence and the now-serving watermark. Entry tokens are random
	// UUIDs, so they can never collide with it, but CreateEntry still
	// rejects it explicitly.
	DefaultCounterKey = "counter"

	counterFieldNextTicket = "nextTicket"
	counterFieldNowServing = "nowServing"
)

// advanceWatermarkScript moves nowServing forward to the promoted ticket
// number, never backward. Duplicate deliveries and concurrent promoters
// therefore keep the watermark monotonic.
var advanceWatermarkScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or 0)
local ticket = tonumber(ARGV[2])
if ticket > current then
	redis.call("HSET", KEYS[1], ARGV[1], tostring(ticket))
	return ticket
end
return current
`)

type RedisStore struct {
	client *redis.Client
	opts   *redisOpts
}

type redisOpts struct {
	counterKey string
}

func defaultRedisOpts() *redisOpts {
	return &redisOpts{
		counterKey: DefaultCounterKey,
	}
}

type RedisOption interface {
	apply(opts *redisOpts)
}

type RedisOptionFunc func(opts *redisOpts)

func (f RedisOptionFunc) apply(opts *redisOpts) {
	f(opts)
}

// WithCounterKey overrides the reserved key of the counter record.
func WithCounterKey(key string) RedisOption {
	return RedisOptionFunc(func(opts *redisOpts) {
		opts.counterKey = key
	})
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	ro := defaultRedisOpts()
	for _, o := range opts {
		o.apply(ro)
	}
	return &RedisStore{
		client: client,
		opts:   ro,
	}
}

// NextTicket atomically increments the ticket sequence. HINCRBY initializes
// an absent counter to zero, so the first ticket ever issued is 1.
func (s *RedisStore) NextTicket(ctx context.Context) (uint64, error) {
	n, err := s.client.HIncrBy(ctx, s.opts.counterKey, counterFieldNextTicket, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment ticket counter: %w", err)
	}
	return uint64(n), nil
}

func (s *RedisStore) CreateEntry(ctx context.Context, entry *QueueEntry, ttl time.Duration) error {
	if entry.Token == s.opts.counterKey {
		return ErrReservedToken
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, entry.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

func (s *RedisStore) GetEntry(ctx context.Context, token string) (*QueueEntry, error) {
	data, err := s.client.Get(ctx, token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return decodeEntry(data)
}

func (s *RedisStore) DeleteEntry(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, token).Err(); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// PromoteEntry performs the conditional WAITING -> ALLOWED transition.
// SET XX guards against resurrecting an entry whose TTL expired it out of
// the store between the read and the write; KEEPTTL preserves the original
// expiry so promotion never extends an entry's lifetime.
func (s *RedisStore) PromoteEntry(ctx context.Context, token string) (PromoteOutcome, error) {
	data, err := s.client.Get(ctx, token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return OutcomeNotFound, nil
		}
		return 0, fmt.Errorf("failed to get entry: %w", err)
	}
	entry, err := decodeEntry(data)
	if err != nil {
		return 0, err
	}
	if entry.Status != StatusAllowed {
		entry.Status = StatusAllowed
		encoded, err := encodeEntry(entry)
		if err != nil {
			return 0, err
		}
		ok, err := s.client.SetXX(ctx, token, encoded, redis.KeepTTL).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to promote entry: %w", err)
		}
		if !ok {
			return OutcomeNotFound, nil
		}
	}
	if err := advanceWatermarkScript.Run(ctx, s.client,
		[]string{s.opts.counterKey},
		counterFieldNowServing, entry.TicketNumber,
	).Err(); err != nil {
		return 0, fmt.Errorf("failed to advance watermark: %w", err)
	}
	return OutcomePromoted, nil
}

func (s *RedisStore) NowServing(ctx context.Context) (uint64, error) {
	val, err := s.client.HGet(ctx, s.opts.counterKey, counterFieldNowServing).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get watermark: %w", err)
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse watermark %q: %w", val, err)
	}
	return n, nil
}

func encodeEntry(entry *QueueEntry) (string, error) {
	b, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	return string(b), nil
}

func decodeEntry(data string) (*QueueEntry, error) {
	var entry QueueEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return &entry, nil
}
