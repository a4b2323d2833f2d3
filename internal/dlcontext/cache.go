package dlcontext

import (
	"context"
	"sync"
	"time"

	"github.com/torrential/depot/internal/admission"
	"github.com/torrential/depot/internal/crypto"
	"github.com/torrential/depot/internal/depoterr"
	"github.com/torrential/depot/internal/metrics"
)

// cacheKey identifies one download context.
type cacheKey struct {
	GameID      string
	VersionName string
}

// contextBuilder is the subset of Builder the cache depends on; tests
// substitute a fake to exercise single-flight/TTL behavior without a
// real Drop connection or filesystem.
type contextBuilder interface {
	Build(ctx context.Context, gameID, versionName string) (*DownloadContext, error)
}

// Cache is the TTL-evicted, single-flight-coalesced map described in
// spec §4.4. Builds are serialized process-wide through buildPermit
// (capacity 1) so that concurrent misses for distinct keys still queue
// behind one another, matching "the source uses a global semaphore for
// simplicity" (spec §9).
type Cache struct {
	builder     contextBuilder
	buildPermit *admission.Semaphore
	ttl         time.Duration
	metrics     *metrics.Metrics
	rootWatcher *RootWatcher
	keyManager  crypto.KeyManager

	mu      sync.RWMutex
	entries map[cacheKey]*DownloadContext
}

// NewCache builds a Cache with the given eviction TTL.
func NewCache(builder *Builder, buildPermit *admission.Semaphore, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		builder:     builder,
		buildPermit: buildPermit,
		ttl:         ttl,
		metrics:     m,
		entries:     make(map[cacheKey]*DownloadContext),
	}
}

// SetRootWatcher attaches a RootWatcher so future builds are watched for
// external removal of their backing directory. Optional; a Cache with no
// watcher behaves exactly as before.
func (c *Cache) SetRootWatcher(w *RootWatcher) {
	c.rootWatcher = w
}

// SetKeyManager attaches a KeyManager so Get unwraps a fresh manifest key
// on every access instead of ever returning the long-lived cached entry
// with a plaintext key populated. Must match the KeyManager (or lack of
// one) the Cache's Builder was configured with.
func (c *Cache) SetKeyManager(km crypto.KeyManager) {
	c.keyManager = km
}

// newCacheForTest builds a Cache around an arbitrary contextBuilder,
// used by tests to avoid a real rpc.Server/backend.Registry.
func newCacheForTest(builder contextBuilder, ttl time.Duration) *Cache {
	return &Cache{
		builder:     builder,
		buildPermit: admission.NewSemaphore(1),
		ttl:         ttl,
		entries:     make(map[cacheKey]*DownloadContext),
	}
}

// Get implements lookup-or-build: on a hit it refreshes LastAccess and
// returns the context; on a miss it acquires the global build permit,
// re-checks (double-checked insertion), and builds if still absent.
func (c *Cache) Get(ctx context.Context, gameID, versionName string) (*DownloadContext, error) {
	key := cacheKey{GameID: gameID, VersionName: versionName}

	if dc, ok := c.touch(key); ok {
		if c.metrics != nil {
			c.metrics.RecordCacheHit()
		}
		return c.materialize(ctx, dc)
	}

	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}

	if err := c.buildPermit.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.buildPermit.Release(1)

	if dc, ok := c.touch(key); ok {
		return c.materialize(ctx, dc)
	}

	if c.metrics != nil {
		c.metrics.RecordVersionQuerySent()
	}
	dc, err := c.builder.Build(ctx, gameID, versionName)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = dc
	n := len(c.entries)
	c.mu.Unlock()

	if c.rootWatcher != nil {
		c.rootWatcher.Watch(key, dc.Root)
	}

	if c.metrics != nil {
		c.metrics.RecordContextBuild()
		c.metrics.SetCacheEntries(n)
	}

	return c.materialize(ctx, dc)
}

// materialize returns dc unchanged when no KeyManager is configured or dc
// carries no KeyEnvelope (plaintext key flowed straight through from
// Builder). Otherwise it unwraps the manifest key into a shallow copy of
// dc so the long-lived cache entry itself never holds a plaintext key -
// only the copy handed to this one caller does, and it is discarded after
// the request completes.
func (c *Cache) materialize(ctx context.Context, dc *DownloadContext) (*DownloadContext, error) {
	if c.keyManager == nil || dc.KeyEnvelope == nil {
		return dc, nil
	}

	plaintext, err := c.keyManager.UnwrapKey(ctx, dc.KeyEnvelope, nil)
	if err != nil {
		return nil, depoterr.Internal("unwrapping manifest key", err)
	}

	copied := *dc
	copy(copied.Manifest.Key[:], plaintext)
	for i := range plaintext {
		plaintext[i] = 0
	}
	return &copied, nil
}

// touch returns the entry for key, bumping LastAccess, if present.
func (c *Cache) touch(key cacheKey) (*DownloadContext, bool) {
	c.mu.RLock()
	dc, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	dc.LastAccess = time.Now()
	c.mu.Unlock()

	return dc, true
}

// Invalidate removes key without waiting on in-flight readers; a request
// already holding dc completes unaffected (spec §4.4).
func (c *Cache) Invalidate(gameID, versionName string) {
	key := cacheKey{GameID: gameID, VersionName: versionName}

	c.mu.Lock()
	if be, ok := c.entries[key]; ok {
		_ = be // backend.Close intentionally not called here; in-flight readers may still hold it open.
		delete(c.entries, key)
	}
	n := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetCacheEntries(n)
	}
}

// Sweep runs once: entries idle for at least the configured TTL are
// removed. Intended to be called on a ticker (spec §4.4: every 60s).
func (c *Cache) Sweep() {
	now := time.Now()
	var evicted int

	c.mu.Lock()
	for key, dc := range c.entries {
		if now.Sub(dc.LastAccess) >= c.ttl {
			delete(c.entries, key)
			evicted++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		for i := 0; i < evicted; i++ {
			c.metrics.RecordCacheEviction()
		}
		c.metrics.SetCacheEntries(n)
	}
}

// RunSweeper blocks, running Sweep on interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
