package device

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cached memoizes another provider's identifier. The cache belongs to
// the instance. A TTL of zero keeps the value until Refresh or
// Invalidate; a negative TTL disables caching. Failures are never
// cached.
type Cached struct {
	source Provider
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu       sync.RWMutex
	id       string
	cachedAt time.Time
}

// CachedOption configures a Cached provider.
type CachedOption func(*Cached)

// WithNow replaces the time source used for TTL checks.
func WithNow(now func() time.Time) CachedOption {
	return func(c *Cached) { c.now = now }
}

// WithCacheLogger sets the logger for cache events.
func WithCacheLogger(l *slog.Logger) CachedOption {
	return func(c *Cached) { c.logger = l }
}

func NewCached(source Provider, ttl time.Duration, opts ...CachedOption) *Cached {
	c := &Cached{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) GetID(ctx context.Context) (string, error) {
	if c.ttl >= 0 {
		c.mu.RLock()
		id, fresh := c.id, c.fresh()
		c.mu.RUnlock()
		if fresh {
			return id, nil
		}
	}
	return c.Refresh(ctx)
}

func (c *Cached) fresh() bool {
	if c.id == "" {
		return false
	}
	return c.ttl == 0 || c.now().Sub(c.cachedAt) < c.ttl
}

// Refresh bypasses the cache and re-reads the source.
func (c *Cached) Refresh(ctx context.Context) (string, error) {
	id, err := c.source.GetID(ctx)
	if err != nil {
		c.Invalidate()
		c.logger.WarnContext(ctx, "device identifier lookup failed",
			slog.String("component", "device"),
			slog.String("error", err.Error()))
		return "", err
	}
	if c.ttl < 0 {
		return id, nil
	}

	c.mu.Lock()
	c.id = id
	c.cachedAt = c.now()
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "device identifier cached",
		slog.String("component", "device"),
		slog.Duration("ttl", c.ttl))
	return id, nil
}

// Invalidate drops the cached identifier.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.id = ""
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
