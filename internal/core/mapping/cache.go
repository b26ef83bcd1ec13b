// Package mapping caches the external path classification table.
package mapping

import (
	"context"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"dirindex/internal/core/cache"
	"dirindex/internal/metrics"
	"dirindex/internal/model"
)

const DefaultRefreshInterval = 30 * time.Minute

// Fetcher loads the full mapping table, keyed by path prefix.
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]model.MappingEntry, error)
}

type FetcherFunc func(ctx context.Context) (map[string]model.MappingEntry, error)

func (f FetcherFunc) Fetch(ctx context.Context) (map[string]model.MappingEntry, error) {
	return f(ctx)
}

type snapshot struct {
	gen     uint64
	entries map[string]model.MappingEntry
}

type memoKey struct {
	gen  uint64
	path string
}

type memoVal struct {
	entry model.MappingEntry
	ok    bool
}

type Options struct {
	RefreshInterval time.Duration
	// FailureBackoff holds off MaybeRefresh after a failed fetch. Zero retries
	// on the next call.
	FailureBackoff time.Duration
	MemoSize       int
	Logger          *zap.Logger
}

// Cache serves lookups from an immutable snapshot that is swapped whole on
// refresh, so readers never see a partially replaced table.
type Cache struct {
	fetcher  Fetcher
	interval time.Duration
	backoff  time.Duration
	logger   *zap.Logger

	snap    atomic.Pointer[snapshot]
	nextGen atomic.Uint64
	group   singleflight.Group
	memo    *cache.LRU[memoKey, memoVal]

	mu            sync.Mutex
	lastRefreshed time.Time
	lastFailed    time.Time
}

// New returns an empty cache; the first MaybeRefresh call populates it.
func New(fetcher Fetcher, opts Options) *Cache {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.MemoSize <= 0 {
		opts.MemoSize = 4096
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Cache{
		fetcher:  fetcher,
		interval: opts.RefreshInterval,
		backoff:  opts.FailureBackoff,
		logger:   opts.Logger,
		memo:     cache.NewLRU[memoKey, memoVal](opts.MemoSize),
	}
	c.snap.Store(&snapshot{entries: map[string]model.MappingEntry{}})
	return c
}

func (c *Cache) due(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backoff > 0 && !c.lastFailed.IsZero() && now.Sub(c.lastFailed) < c.backoff {
		return false
	}
	return c.lastRefreshed.IsZero() || now.Sub(c.lastRefreshed) >= c.interval
}

// MaybeRefresh refetches the table when the interval has elapsed since the
// last successful refresh. Concurrent callers share one fetch. On failure the
// stale snapshot keeps serving and the first call after FailureBackoff tries
// again.
func (c *Cache) MaybeRefresh(ctx context.Context, now time.Time) error {
	if c == nil || c.fetcher == nil || !c.due(now) {
		return nil
	}
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		if !c.due(now) {
			return nil, nil
		}
		return nil, c.refresh(ctx, now)
	})
	return err
}

// Refresh fetches unconditionally.
func (c *Cache) Refresh(ctx context.Context, now time.Time) error {
	if c == nil || c.fetcher == nil {
		return nil
	}
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx, now)
	})
	return err
}

func (c *Cache) refresh(ctx context.Context, now time.Time) error {
	raw, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.mu.Lock()
		c.lastFailed = now
		c.mu.Unlock()
		metrics.RecordMappingRefresh(err, 0)
		c.logger.Warn("mapping refresh failed, serving stale entries", zap.Error(err))
		return err
	}

	entries := make(map[string]model.MappingEntry, len(raw))
	for k, v := range raw {
		k = normalize(k)
		if k == "" {
			continue
		}
		entries[k] = v
	}
	c.snap.Store(&snapshot{gen: c.nextGen.Add(1), entries: entries})

	c.mu.Lock()
	c.lastRefreshed = now
	c.lastFailed = time.Time{}
	c.mu.Unlock()

	metrics.RecordMappingRefresh(nil, len(entries))
	c.logger.Info("mapping refreshed", zap.Int("entries", len(entries)))
	return nil
}

// Lookup returns the entry for the longest mapped ancestor of p, p included.
func (c *Cache) Lookup(p string) (model.MappingEntry, bool) {
	if c == nil {
		return model.MappingEntry{}, false
	}
	s := c.snap.Load()
	if s == nil || len(s.entries) == 0 {
		return model.MappingEntry{}, false
	}

	p = normalize(p)
	if p == "" {
		return model.MappingEntry{}, false
	}
	key := memoKey{gen: s.gen, path: p}
	if v, ok := c.memo.Get(key); ok {
		return v.entry, v.ok
	}

	var res memoVal
	for cand := p; ; cand = path.Dir(cand) {
		if e, ok := s.entries[cand]; ok {
			res = memoVal{entry: e, ok: true}
			break
		}
		if cand == "/" || cand == "." {
			break
		}
	}
	c.memo.Put(key, res)
	return res.entry, res.ok
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.snap.Load().entries)
}

func (c *Cache) LastRefreshed() time.Time {
	if c == nil {
		return time.Time{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefreshed
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
