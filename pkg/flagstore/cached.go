package flagstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/antoinedelia/waiting-room/pkg/wrlog"
)

const DefaultCacheTTL = 30 * time.Second

type cachedOptions struct {
	ttl time.Duration
	now func() time.Time
}

func defaultCachedOptions() *cachedOptions {
	return &cachedOptions{
		ttl: DefaultCacheTTL,
		now: time.Now,
	}
}

type CachedOption interface {
	apply(options *cachedOptions)
}

type CachedOptionFunc func(options *cachedOptions)

func (f CachedOptionFunc) apply(options *cachedOptions) {
	f(options)
}

func WithCacheTTL(ttl time.Duration) CachedOption {
	return CachedOptionFunc(func(options *cachedOptions) {
		options.ttl = ttl
	})
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) CachedOption {
	return CachedOptionFunc(func(options *cachedOptions) {
		options.now = now
	})
}

// Cached is a per-process cache of one remote boolean flag. A read older
// than the TTL triggers a refresh; a failed refresh fails open to false
// (waiting room disabled) rather than blocking traffic.
type Cached struct {
	store   FlagStore
	name    string
	options *cachedOptions

	mu          sync.Mutex
	value       bool
	primed      bool
	lastChecked time.Time
}

func NewCached(store FlagStore, name string, opts ...CachedOption) *Cached {
	options := defaultCachedOptions()
	for _, o := range opts {
		o.apply(options)
	}
	return &Cached{
		store:   store,
		name:    name,
		options: options,
	}
}

// Enabled returns the cached flag value, refreshing it when unset or stale.
// On a refresh failure the value fails open to false but lastChecked is
// deliberately left untouched, so the next call retries the fetch instead
// of trusting the failure for a full TTL.
func (c *Cached) Enabled(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.options.now()
	if c.primed && now.Sub(c.lastChecked) <= c.options.ttl {
		return c.value
	}

	raw, err := c.store.GetFlag(ctx, c.name)
	if err != nil {
		wrlog.Warnf("failed to fetch flag %s, failing open: %+v", c.name, err)
		c.value = false
		c.primed = true
		return c.value
	}
	c.value = strings.EqualFold(raw, "true")
	c.primed = true
	c.lastChecked = now
	return c.value
}
