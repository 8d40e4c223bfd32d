// Package cache implements the content-addressable build cache (§4.6):
// a durable digest-keyed index over manifest blobs stored in a
// ContentStore, with size-bounded LRU eviction and periodic TTL sweeps.
package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/moby/buildcore/contentstore"
	"github.com/moby/buildcore/errdefs"
)

// EvictionPolicy names the strategy used to pick victims once
// configuration.maxSize is exceeded. LRU is the only policy the design
// covers (§6).
type EvictionPolicy string

const LRU EvictionPolicy = "lru"

// Configuration enumerates the cache's tunables (§6).
type Configuration struct {
	MaxSize         int64
	MaxAge          time.Duration
	IndexPath       string
	EvictionPolicy  EvictionPolicy
	Concurrency     int
	VerifyIntegrity bool
	GCInterval      time.Duration
	CacheKeyVersion string
	DefaultTTL      time.Duration
}

// Operation is the minimal description of the build step a CacheKey was
// derived from; it flows straight into the stored manifest's config (§6).
type Operation struct {
	Type         string
	BuildVersion string
}

// CachedResult is what a cache hit reconstructs (§4.6 get).
type CachedResult struct {
	Snapshot           SnapshotRef
	EnvironmentChanges map[string]string
	MetadataChanges    map[string]string
}

// Statistics reports aggregate cache health (§4.6 statistics()).
type Statistics struct {
	EntryCount   int
	TotalBytes   int64
	HitRate      float64
	OldestEntry  time.Time
	NewestEntry  time.Time
	AvgEntrySize int64
	Policy       string
}

// Cache is the ContentAddressableCache: a durable index plus a content
// store for the manifest blobs it indexes. All public operations are
// actor-serialized (§5) via mu; the background GC goroutine enters through
// the same serialized path as external callers.
type Cache struct {
	mu     sync.Mutex
	config Configuration
	index  *Index
	store  contentstore.Store

	hits   atomic.Int64
	misses atomic.Int64

	stopGC chan struct{}
	gcDone chan struct{}
}

// Open constructs a Cache backed by the index at config.IndexPath and the
// given content store, and starts its background GC loop.
func Open(config Configuration, store contentstore.Store) (*Cache, error) {
	index, err := OpenIndex(config.IndexPath)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		config: config,
		index:  index,
		store:  store,
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	if config.GCInterval > 0 {
		go c.gcLoop()
	} else {
		close(c.gcDone)
	}
	return c, nil
}

// Close stops the background GC loop and closes the underlying index.
func (c *Cache) Close() error {
	close(c.stopGC)
	<-c.gcDone
	return c.index.Close()
}

func (c *Cache) gcLoop() {
	defer close(c.gcDone)
	ticker := time.NewTicker(c.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			if err := c.runGC(context.Background()); err != nil {
				logrus.WithError(err).Warn("cache: periodic gc failed")
			}
		}
	}
}

// runGC evicts expired entries by TTL, then enforces the size bound
// (§4.6.2 periodic GC driver).
func (c *Cache) runGC(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.index.AllEntries()
	if err != nil {
		return err
	}
	now := time.Now()
	var expired []digest.Digest
	for _, e := range entries {
		if e.Entry.Metadata.TTL != nil && e.Entry.Metadata.CreatedAt.Add(*e.Entry.Metadata.TTL).Before(now) {
			expired = append(expired, e.Digest)
		}
	}
	if len(expired) > 0 {
		if err := c.evictLocked(ctx, expired); err != nil {
			return err
		}
	}
	return c.enforceSizeBoundLocked(ctx)
}

// Has reports whether key currently has a cache entry, index-only (§4.6
// has).
func (c *Cache) Has(key Key) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cacheDigest, err := deriveDigest(c.config.CacheKeyVersion, key)
	if err != nil {
		return false, err
	}
	_, err = c.index.Get(cacheDigest)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get derives the cache digest for key, resolves the index entry and
// manifest blob, and returns the reconstructed result (§4.6 get). Entries
// pointing at a missing or malformed blob are treated as orphans: removed
// from the index, reported as a miss.
func (c *Cache) Get(ctx context.Context, key Key, op Operation) (*CachedResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cacheDigest, err := deriveDigest(c.config.CacheKeyVersion, key)
	if err != nil {
		return nil, err
	}

	entry, err := c.index.Get(cacheDigest)
	if errdefs.IsNotFound(err) {
		c.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := c.store.Get(ctx, entry.Descriptor.Digest, &manifest); err != nil || manifest.Snapshot == nil {
		logrus.WithField("cacheDigest", cacheDigest).Warn("cache: orphan index entry, dropping")
		_ = c.index.Remove(cacheDigest)
		c.misses.Add(1)
		return nil, nil
	}

	entry.Metadata.AccessedAt = time.Now()
	if err := c.index.Put(cacheDigest, entry); err != nil {
		return nil, err
	}

	c.hits.Add(1)
	return &CachedResult{
		Snapshot:           *manifest.Snapshot,
		EnvironmentChanges: manifest.EnvironmentChanges,
		MetadataChanges:    manifest.MetadataChanges,
	}, nil
}

// Put derives the cache digest, and if no entry exists yet, stores the
// result's manifest in the content store and records an index entry
// (§4.6 put). An existing entry makes Put a silent no-op -- puts are
// idempotent. Any failure is logged and swallowed; callers never see a
// Put error, matching the design's "cache put errors are swallowed"
// ordering guarantee (§5).
func (c *Cache) Put(ctx context.Context, result CachedResult, key Key, op Operation) {
	if err := c.put(ctx, result, key, op); err != nil {
		logrus.WithError(err).Warn("cache: put failed")
	}
}

func (c *Cache) put(ctx context.Context, result CachedResult, key Key, op Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cacheDigest, err := deriveDigest(c.config.CacheKeyVersion, key)
	if err != nil {
		return err
	}

	if _, err := c.index.Get(cacheDigest); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	now := time.Now()
	manifest := Manifest{
		SchemaVersion: SchemaVersion,
		MediaType:     MediaType,
		Config: ManifestConfig{
			CacheKey:      key,
			OperationType: op.Type,
			Platform:      key.Platform,
			BuildVersion:  op.BuildVersion,
			CreatedAt:     now,
		},
		Annotations:        map[string]string{},
		Snapshot:           &result.Snapshot,
		EnvironmentChanges: result.EnvironmentChanges,
		MetadataChanges:    result.MetadataChanges,
	}

	sessionID, ingestDir, err := c.store.NewIngestSession(ctx)
	if err != nil {
		return err
	}
	size, blobDigest, err := c.store.Writer(ingestDir).Create(ctx, manifest)
	if err != nil {
		_ = c.store.CancelIngestSession(ctx, sessionID)
		return err
	}
	if err := c.store.CompleteIngestSession(ctx, sessionID); err != nil {
		return err
	}

	var ttl *time.Duration
	if c.config.DefaultTTL > 0 {
		d := c.config.DefaultTTL
		ttl = &d
	}
	entry := Entry{
		Descriptor: ocispec.Descriptor{
			MediaType: MediaType,
			Digest:    blobDigest,
			Size:      size,
		},
		Metadata: EntryMetadata{
			CreatedAt:     now,
			AccessedAt:    now,
			OperationHash: key.OperationDigest.String(),
			Platform:      key.Platform,
			TTL:           ttl,
			Tags:          map[string]string{},
		},
	}
	if err := c.index.Put(cacheDigest, entry); err != nil {
		return err
	}

	return c.enforceSizeBoundLocked(ctx)
}

// Evict deletes the manifest blob and index entry for each cache digest,
// atomically with respect to Get: a concurrent Get on an evicted digest
// always observes either the whole entry or none of it, since both
// deletions happen while c.mu is held and Get also holds it for its whole
// duration.
func (c *Cache) Evict(ctx context.Context, digests ...digest.Digest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(ctx, digests)
}

func (c *Cache) evictLocked(ctx context.Context, digests []digest.Digest) error {
	var blobs []digest.Digest
	for _, d := range digests {
		entry, err := c.index.Get(d)
		if errdefs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		blobs = append(blobs, entry.Descriptor.Digest)
	}
	if len(blobs) > 0 {
		if err := c.store.Delete(ctx, blobs...); err != nil {
			return err
		}
	}
	return c.index.Remove(digests...)
}

// enforceSizeBoundLocked implements the post-put size check (§4.6.2):
// when total size exceeds MaxSize, evict LRU (by AccessedAt) entries until
// total size is at or under 0.8 * MaxSize. Called with c.mu held.
func (c *Cache) enforceSizeBoundLocked(ctx context.Context) error {
	if c.config.MaxSize <= 0 {
		return nil
	}
	entries, err := c.index.AllEntries()
	if err != nil {
		return err
	}
	var total int64
	for _, e := range entries {
		total += e.Entry.Descriptor.Size
	}
	if total <= c.config.MaxSize {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Entry.Metadata.AccessedAt.Before(entries[j].Entry.Metadata.AccessedAt)
	})
	target := int64(float64(c.config.MaxSize) * 0.8)
	var victims []digest.Digest
	for _, e := range entries {
		if total <= target {
			break
		}
		victims = append(victims, e.Digest)
		total -= e.Entry.Descriptor.Size
	}
	if len(victims) == 0 {
		return nil
	}
	return c.evictLocked(ctx, victims)
}

// Statistics reports entry count, total bytes, hit rate, ages, average
// entry size, and the policy name (§4.6 statistics()).
func (c *Cache) Statistics() (Statistics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idxStats, err := c.index.Statistics()
	if err != nil {
		return Statistics{}, err
	}

	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Statistics{
		EntryCount:   idxStats.EntryCount,
		TotalBytes:   idxStats.TotalBytes,
		HitRate:      hitRate,
		OldestEntry:  idxStats.OldestEntry,
		NewestEntry:  idxStats.NewestEntry,
		AvgEntrySize: idxStats.AvgEntrySize,
		Policy:       string(LRU),
	}, nil
}
