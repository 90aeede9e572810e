// Package cache keeps recent fetch results so that repeated checks of the
// same page don't hit the expensive tiers again. It is an optimization
// layer only; a miss is always safely recomputable.
package cache

import (
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/flatwatch/flatwatch/internal/types"
	"github.com/flatwatch/flatwatch/internal/utils"
)

const (
	apiTTL        = 5 * time.Minute
	staticTTL     = 6 * time.Hour
	largeBodySize = 64 << 10 // payloads above this get doubled TTL
)

var staticExtensions = map[string]bool{
	".js": true, ".css": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".ico": true, ".woff": true, ".woff2": true,
}

type entry struct {
	result      *types.ScrapeResult
	createdAt   time.Time
	ttl         time.Duration
	accessCount int64
	lastAccess  time.Time
	sizeBytes   int64
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Options configures a Cache.
type Options struct {
	MaxSizeBytes int64
	MaxEntries   int
	DefaultTTL   time.Duration
	SweepEvery   time.Duration
	Evictor      string // "scored" (default) or "lru"
}

// Cache is a bounded TTL cache of scrape results keyed by normalized URL.
// Safe for concurrent use.
type Cache struct {
	opts    Options
	evictor evictor

	mu        sync.Mutex
	entries   map[string]*entry
	totalSize int64
	hits      int64
	misses    int64

	stopSweep chan struct{}
	sweepOnce sync.Once
	now       func() time.Time
}

func New(opts Options) *Cache {
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = 50 << 20
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 10 * time.Minute
	}
	var ev evictor
	switch opts.Evictor {
	case "lru":
		ev = newLRUEvictor(opts.MaxEntries)
	default:
		ev = scoredEvictor{}
	}
	c := &Cache{
		opts:      opts,
		evictor:   ev,
		entries:   map[string]*entry{},
		stopSweep: make(chan struct{}),
		now:       time.Now,
	}
	if opts.SweepEvery > 0 {
		go c.sweepLoop(opts.SweepEvery)
	}
	return c
}

// Get returns the cached result for url, or nil and false on a miss. An
// entry whose TTL has elapsed counts as a miss and is dropped.
func (c *Cache) Get(url string) (*types.ScrapeResult, bool) {
	key := c.key(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(c.now()) {
		c.removeLocked(key)
		c.misses++
		return nil, false
	}
	e.accessCount++
	e.lastAccess = c.now()
	c.evictor.recordGet(key)
	c.hits++
	return e.result, true
}

// Set stores a result under url. Entries larger than 10% of the total
// capacity are rejected so a single huge page can't dominate the cache.
func (c *Cache) Set(url string, result *types.ScrapeResult) {
	if result == nil {
		return
	}
	size := int64(len(result.Content) + len(result.ContentHash) + len(result.FinalURL) + 64)
	if size > c.opts.MaxSizeBytes/10 {
		slog.Debug("cache entry rejected, too large",
			slog.String("url", url), slog.Int64("size", size))
		return
	}
	key := c.key(url)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.totalSize -= old.sizeBytes
	}
	c.entries[key] = &entry{
		result:      result,
		createdAt:   now,
		ttl:         c.ttlFor(url, size),
		lastAccess:  now,
		sizeBytes:   size,
	}
	c.totalSize += size
	c.evictor.recordSet(key)
	c.evictUntilFitLocked()
}

// ttlFor picks a TTL per URL shape: API-style paths change often and get a
// short TTL, static assets barely change and get a long one. Large payloads
// are expensive to refetch, so their TTL is doubled.
func (c *Cache) ttlFor(url string, size int64) time.Duration {
	ttl := c.opts.DefaultTTL
	lower := strings.ToLower(url)
	ext := path.Ext(strings.SplitN(lower, "?", 2)[0])
	switch {
	case strings.Contains(lower, "/api/") || strings.Contains(lower, "format=json"):
		ttl = apiTTL
	case staticExtensions[ext]:
		ttl = staticTTL
	}
	if size > largeBodySize {
		ttl *= 2
	}
	return ttl
}

func (c *Cache) evictUntilFitLocked() {
	for c.totalSize > c.opts.MaxSizeBytes || len(c.entries) > c.opts.MaxEntries {
		key, ok := c.evictor.victim(c.entries, c.now())
		if !ok {
			return
		}
		slog.Debug("cache eviction", slog.String("key", utils.ShortenString(key, 16)))
		c.removeLocked(key)
	}
}

func (c *Cache) removeLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.totalSize -= e.sizeBytes
		delete(c.entries, key)
		c.evictor.recordRemove(key)
	}
}

func (c *Cache) key(url string) string {
	normalized, err := utils.NormalizeURL(url)
	if err != nil {
		normalized = url
	}
	return utils.HashContent(normalized)
}

// sweepLoop drops expired entries on a fixed interval so memory is
// reclaimed even without capacity pressure.
func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("cache sweep", slog.Int("removed", removed), slog.Int("remaining", len(c.entries)))
	}
}

// Stats returns hit/miss counters and current occupancy.
func (c *Cache) Stats() (hits, misses int64, entries int, sizeBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries), c.totalSize
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}
