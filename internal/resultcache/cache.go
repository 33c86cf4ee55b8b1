// Package resultcache implements the Result Cache (C8): a content-
// addressed, total-bytes-bounded, approximate-LRU in-memory store keyed
// by a compile's Fingerprint, with an at-most-one-in-flight-compile-per-
// fingerprint guarantee so duplicate concurrent requests attach to the
// pending completion rather than spawning a second compile.
package resultcache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"apex-build/internal/broker"
	"apex-build/internal/metrics"
	"apex-build/internal/workspace"
)

// entry is what's actually held in the LRU: the result plus the
// workspace handle backing OutputFilePath, if any, and the entry's
// approximate size for the byte-budget accounting.
type entry struct {
	result *broker.CompileResult
	handle *workspace.Handle
	size   int64
}

// Cache is the Result Cache. It is safe for concurrent use.
type Cache struct {
	maxBytes int64
	curBytes atomic.Int64

	mu    sync.Mutex
	lru   *lru.Cache[broker.Fingerprint, *entry]
	group singleflight.Group
}

// New creates a Cache bounded by maxBytes total (approximate — size is
// estimated from the result's asm/stdout/stderr/output text, not measured
// exactly) and maxEntries count, whichever is hit first by the
// approximate-LRU eviction.
func New(maxEntries int, maxBytes int64) (*Cache, error) {
	c := &Cache{maxBytes: maxBytes}
	l, err := lru.NewWithEvict[broker.Fingerprint, *entry](maxEntries, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

func (c *Cache) onEvict(_ broker.Fingerprint, e *entry) {
	c.curBytes.Add(-e.size)
	if e.handle != nil {
		e.handle.Release()
	}
}

// Get returns the cached result for fp, if present.
func (c *Cache) Get(fp broker.Fingerprint) (*broker.CompileResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(fp)
	metrics.Get().RecordCacheOperation("result", ok)
	if !ok {
		return nil, false
	}
	return e.result, true
}

// Put inserts result under fp iff result.OkToCache is true — a cache
// entry is never published with OkToCache=false. handle, if non-nil, is
// retained for the lifetime of the cache entry and released on eviction;
// pass the workspace handle backing OutputFilePath when the result
// supports a binary download, nil otherwise.
func (c *Cache) Put(fp broker.Fingerprint, result *broker.CompileResult, handle *workspace.Handle) {
	if !result.OkToCache {
		return
	}
	size := estimateSize(result)

	if handle != nil {
		handle.Retain()
	}

	c.mu.Lock()
	c.lru.Add(fp, &entry{result: result, handle: handle, size: size})
	c.mu.Unlock()

	c.curBytes.Add(size)
	c.enforceByteBudget()

	metrics.Get().CacheEntries.Set(float64(c.lru.Len()))
	metrics.Get().CacheSizeBytes.Set(float64(c.curBytes.Load()))
}

// enforceByteBudget evicts the least-recently-used entries until the
// approximate total is back under maxBytes. Combined with the LRU's own
// count-based eviction, this gives the "bounded by a total-bytes budget"
// contract from §4.8.
func (c *Cache) enforceByteBudget() {
	if c.maxBytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.curBytes.Load() > c.maxBytes && c.lru.Len() > 0 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Compile executes fn at most once concurrently per fingerprint: callers
// racing on the same fp all receive the same result, and only the first
// caller's fn actually runs. A failing fn (or one that returns a result
// with OkToCache=false) is not retried automatically by this layer — the
// next independent caller simply calls Compile again and fn reruns, since
// singleflight does not cache past the in-flight window.
func (c *Cache) Compile(fp broker.Fingerprint, fn func() (*broker.CompileResult, *workspace.Handle, error)) (*broker.CompileResult, error) {
	if cached, ok := c.Get(fp); ok {
		return cached, nil
	}

	type outcome struct {
		result *broker.CompileResult
		handle *workspace.Handle
	}

	v, err, _ := c.group.Do(string(fp), func() (interface{}, error) {
		result, handle, err := fn()
		if err != nil {
			return nil, err
		}
		c.Put(fp, result, handle)
		return outcome{result: result, handle: handle}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(outcome).result, nil
}

func estimateSize(r *broker.CompileResult) int64 {
	n := int64(len(r.RawAsm))
	for _, l := range r.Asm {
		n += int64(len(l.Text))
	}
	for _, l := range r.Stdout {
		n += int64(len(l.Text))
	}
	for _, l := range r.Stderr {
		n += int64(len(l.Text))
	}
	n += int64(len(r.AstOutput))
	return n
}

// Len returns the current number of cached entries (for tests/metrics).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
