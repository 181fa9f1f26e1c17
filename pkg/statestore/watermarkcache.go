package statestore

import (
	"context"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
)

const watermarkCacheKey = "nowServing"

type watermarkCacheOptions struct {
	ttl time.Duration
}

func defaultWatermarkCacheOptions() *watermarkCacheOptions {
	return &watermarkCacheOptions{
		ttl: 1 * time.Second,
	}
}

type WatermarkCacheOption interface {
	apply(options *watermarkCacheOptions)
}

type watermarkCacheOptionFunc func(options *watermarkCacheOptions)

func (f watermarkCacheOptionFunc) apply(options *watermarkCacheOptions) {
	f(options)
}

// WithWatermarkCacheTTL specifies how long a now-serving read is served
// from memory. The default is 1 second.
func WithWatermarkCacheTTL(ttl time.Duration) WatermarkCacheOption {
	return watermarkCacheOptionFunc(func(options *watermarkCacheOptions) {
		options.ttl = ttl
	})
}

// StoreWithWatermarkCache caches NowServing results in-memory with TTL.
// Queue positions are best-effort estimates, so serving a watermark up to
// one cache TTL old keeps the hot status path off the store without
// changing the contract.
type StoreWithWatermarkCache struct {
	origin  Store
	cache   *cache.Cache[string, uint64]
	options *watermarkCacheOptions
}

func NewStoreWithWatermarkCache(origin Store, c *cache.Cache[string, uint64], opts ...WatermarkCacheOption) *StoreWithWatermarkCache {
	options := defaultWatermarkCacheOptions()
	for _, o := range opts {
		o.apply(options)
	}
	return &StoreWithWatermarkCache{
		origin:  origin,
		cache:   c,
		options: options,
	}
}

func (s *StoreWithWatermarkCache) NextTicket(ctx context.Context) (uint64, error) {
	return s.origin.NextTicket(ctx)
}

func (s *StoreWithWatermarkCache) CreateEntry(ctx context.Context, entry *QueueEntry, ttl time.Duration) error {
	return s.origin.CreateEntry(ctx, entry, ttl)
}

func (s *StoreWithWatermarkCache) GetEntry(ctx context.Context, token string) (*QueueEntry, error) {
	return s.origin.GetEntry(ctx, token)
}

func (s *StoreWithWatermarkCache) DeleteEntry(ctx context.Context, token string) error {
	return s.origin.DeleteEntry(ctx, token)
}

func (s *StoreWithWatermarkCache) PromoteEntry(ctx context.Context, token string) (PromoteOutcome, error) {
	return s.origin.PromoteEntry(ctx, token)
}

func (s *StoreWithWatermarkCache) NowServing(ctx context.Context) (uint64, error) {
	if watermark, hit := s.cache.Get(watermarkCacheKey); hit {
		return watermark, nil
	}
	watermark, err := s.origin.NowServing(ctx)
	if err != nil {
		return 0, err
	}
	s.cache.Set(watermarkCacheKey, watermark, cache.WithExpiration(s.options.ttl))
	return watermark, nil
}
