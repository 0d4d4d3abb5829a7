package fetch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cache keeps decoded buffers by locator in front of another Fetcher.
// Concurrent misses for the same locator share one underlying fetch.
// Failed fetches are never stored, so a locator that fails keeps failing
// (and keeps being retried) on every call.
type Cache struct {
	next    Fetcher
	log     zerolog.Logger
	group   singleflight.Group
	mu      sync.RWMutex
	buffers map[string]*Buffer
}

// NewCache wraps next with a locator-keyed cache.
func NewCache(next Fetcher, log zerolog.Logger) *Cache {
	return &Cache{
		next:    next,
		log:     log.With().Str("component", "cache").Logger(),
		buffers: make(map[string]*Buffer),
	}
}

// Fetch returns the cached buffer for locator, fetching it on a miss.
// Buffers are shared between callers and must be treated as read-only.
// A canceled ctx returns early for this caller only; the underlying fetch
// still completes for everyone else and is bounded by the next fetcher's
// own timeout.
func (c *Cache) Fetch(ctx context.Context, locator string) (*Buffer, error) {
	c.mu.RLock()
	buf, ok := c.buffers[locator]
	c.mu.RUnlock()
	if ok {
		c.log.Trace().Str("locator", locator).Msg("Cache hit")
		return buf, nil
	}

	// The shared fetch runs detached from any one caller: a caller that
	// gives up must not fail the others waiting on the same locator.
	ch := c.group.DoChan(locator, func() (interface{}, error) {
		buf, err := c.next.Fetch(context.WithoutCancel(ctx), locator)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.buffers[locator] = buf
		c.mu.Unlock()
		return buf, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		c.log.Trace().Str("locator", locator).Bool("shared", r.Shared).Msg("Cache miss")
		return r.Val.(*Buffer), nil
	}
}

// Len returns the number of cached buffers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buffers)
}
