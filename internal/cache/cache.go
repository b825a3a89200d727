// Package cache implements the two-tier audio cache: an in-process map of
// revocable blob references in front of an optional persistent Store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/metrics"
)

// BlobScheme prefixes every in-memory reference URL
const BlobScheme = "blob:palace/"

// Common errors for persistent stores
var (
	ErrNotFound   = errors.New("cache entry not found")
	ErrStoreWrite = errors.New("persistent cache write failed")
)

// Store is the persistent tier
type Store interface {
	// Get returns ErrNotFound on a miss
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Clear(ctx context.Context) error
	Close() error
}

// Ref is a playable in-memory reference to a cached payload. Its URL stays
// resolvable through the Cache until the entry is replaced or the session
// is cleared.
type Ref struct {
	Key  string
	URL  string
	data []byte
}

// Bytes returns the cached payload; callers must not modify it
func (r *Ref) Bytes() []byte { return r.data }

// Size returns the payload length in bytes
func (r *Ref) Size() int { return len(r.data) }

// Stats summarises cache activity
type Stats struct {
	Entries        int
	Bytes          int64
	MemoryHits     uint64
	PersistentHits uint64
	Misses         uint64
	Persistent     bool
}

// Cache is safe for concurrent use
type Cache struct {
	store   Store
	fetcher *audio.Fetcher
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*Ref // by key
	blobs   map[string]*Ref // by URL
	bytes   int64

	memoryHits     atomic.Uint64
	persistentHits atomic.Uint64
	misses         atomic.Uint64
}

// Option configures a Cache
type Option func(*Cache)

// WithFetcher sets the fetcher used by CacheFromURL
func WithFetcher(f *audio.Fetcher) Option {
	return func(c *Cache) { c.fetcher = f }
}

// WithMetrics records lookups and writes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache over store; a nil store keeps the cache memory-only
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		entries: make(map[string]*Ref),
		blobs:   make(map[string]*Ref),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = audio.NewFetcher()
	}
	return c
}

// Get checks memory, then the persistent tier. A persistent hit is promoted
// into memory. Store failures are logged and reported as misses.
func (c *Cache) Get(ctx context.Context, key string) (*Ref, bool) {
	c.mu.RLock()
	ref, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.memoryHits.Add(1)
		c.metrics.RecordCacheLookup("memory")
		return ref, true
	}

	if c.store == nil {
		c.recordMiss()
		return nil, false
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("persistent cache read failed", "key", key, "error", err)
		}
		c.recordMiss()
		return nil, false
	}

	c.persistentHits.Add(1)
	c.metrics.RecordCacheLookup("persistent")
	slog.Debug("promoting persistent cache hit", "key", key, "size_bytes", len(data))

	c.mu.Lock()
	defer c.mu.Unlock()
	// a concurrent Put or promotion may have won; keep the existing ref
	if existing, ok := c.entries[key]; ok {
		return existing, true
	}
	return c.insertLocked(key, data), true
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	c.metrics.RecordCacheLookup("miss")
}

// Put writes data to both tiers; the last write for a key wins. The memory
// tier is always updated, even when the persistent write fails.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	owned := make([]byte, len(data))
	copy(owned, data)

	c.mu.Lock()
	c.insertLocked(key, owned)
	memBytes := c.bytes
	c.mu.Unlock()
	c.metrics.RecordCacheWrite(memBytes)

	if c.store == nil {
		return nil
	}
	if err := c.store.Put(ctx, key, owned); err != nil {
		slog.Warn("persistent cache write failed", "key", key, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrStoreWrite, key, err)
	}
	slog.Debug("cached audio", "key", key, "size_bytes", len(owned))
	return nil
}

// insertLocked installs a fresh ref for key, revoking any ref it replaces
func (c *Cache) insertLocked(key string, data []byte) *Ref {
	if old, ok := c.entries[key]; ok {
		c.revokeLocked(old)
	}
	ref := &Ref{Key: key, URL: BlobScheme + uuid.NewString(), data: data}
	c.entries[key] = ref
	c.blobs[ref.URL] = ref
	c.bytes += int64(len(data))
	return ref
}

func (c *Cache) revokeLocked(ref *Ref) {
	delete(c.entries, ref.Key)
	delete(c.blobs, ref.URL)
	c.bytes -= int64(len(ref.data))
}

// CacheFromURL fetches url into key unless key is already cached. Failures
// are logged and swallowed; the result reports whether key is now cached.
func (c *Cache) CacheFromURL(ctx context.Context, key, url string) bool {
	if _, ok := c.Get(ctx, key); ok {
		slog.Debug("cache hit, skipping fetch", "key", key)
		return true
	}

	data, _, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		slog.Warn("failed to cache audio from url", "key", key, "url", truncateURL(url), "error", err)
		return false
	}
	if err := c.Put(ctx, key, data); err != nil {
		// the memory tier still holds it
		slog.Debug("cached in memory only", "key", key)
	}
	return true
}

// ResolveBlob returns the payload behind a live blob URL
func (c *Cache) ResolveBlob(url string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.blobs[url]
	if !ok {
		return nil, false
	}
	return ref.data, true
}

// ClearSession revokes every in-memory reference; the persistent tier is kept
func (c *Cache) ClearSession() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*Ref)
	c.blobs = make(map[string]*Ref)
	c.bytes = 0
	c.mu.Unlock()

	c.metrics.SetCacheBytes(0)
	slog.Debug("session cache cleared", "revoked", n)
}

// ClearAll clears both tiers
func (c *Cache) ClearAll(ctx context.Context) error {
	c.ClearSession()
	if c.store == nil {
		return nil
	}
	if err := c.store.Clear(ctx); err != nil {
		slog.Error("failed to clear persistent cache", "error", err)
		return fmt.Errorf("failed to clear persistent cache: %w", err)
	}
	slog.Info("audio cache cleared")
	return nil
}

// Stats reports memory usage and lookup counters
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:        len(c.entries),
		Bytes:          c.bytes,
		MemoryHits:     c.memoryHits.Load(),
		PersistentHits: c.persistentHits.Load(),
		Misses:         c.misses.Load(),
		Persistent:     c.store != nil,
	}
}

// Close releases the persistent store
func (c *Cache) Close() error {
	c.ClearSession()
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// truncateURL keeps inline data URLs out of the logs
func truncateURL(u string) string {
	if strings.HasPrefix(u, "data:") && len(u) > 48 {
		return u[:48] + "..."
	}
	return u
}
