package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"gotest.tools/v3/assert"

	"github.com/moby/buildcore/contentstore"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	config := Configuration{
		MaxSize:         1 << 30,
		IndexPath:       filepath.Join(t.TempDir(), "index.db"),
		EvictionPolicy:  LRU,
		CacheKeyVersion: "v1",
	}
	c, err := Open(config, contentstore.NewMemStore())
	assert.NilError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testKey(op string, inputs ...string) Key {
	in := make([]digest.Digest, 0, len(inputs))
	for _, i := range inputs {
		in = append(in, digest.FromString(i))
	}
	return Key{
		OperationDigest: digest.FromString(op),
		InputDigests:    in,
		Platform:        ocispec.Platform{Architecture: "amd64", OS: "linux"},
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	key := testKey("RUN apk add curl", "layer-a")

	result := CachedResult{
		Snapshot:           SnapshotRef{ID: "snap-1", Digest: digest.FromString("snap-1-content"), Size: 42},
		EnvironmentChanges: map[string]string{"PATH": "/usr/bin"},
		MetadataChanges:    map[string]string{"user": "root"},
	}

	c.Put(ctx, result, key, Operation{Type: "exec", BuildVersion: "1"})

	got, err := c.Get(ctx, key, Operation{Type: "exec"})
	assert.NilError(t, err)
	assert.Assert(t, got != nil)
	assert.Check(t, got.Snapshot.ID == "snap-1")
	assert.Check(t, got.EnvironmentChanges["PATH"] == "/usr/bin")
}

func TestGetMissReturnsNilWithoutError(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	got, err := c.Get(ctx, testKey("nothing-cached"), Operation{})
	assert.NilError(t, err)
	assert.Check(t, got == nil)
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	key := testKey("op", "in1")

	c.Put(ctx, CachedResult{Snapshot: SnapshotRef{ID: "first"}}, key, Operation{})
	c.Put(ctx, CachedResult{Snapshot: SnapshotRef{ID: "second"}}, key, Operation{})

	got, err := c.Get(ctx, key, Operation{})
	assert.NilError(t, err)
	assert.Check(t, got.Snapshot.ID == "first")
}

func TestKeyOrderInvarianceOfHas(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	k1 := testKey("op", "i1", "i2", "i3")
	k2 := testKey("op", "i3", "i2", "i1")

	c.Put(ctx, CachedResult{Snapshot: SnapshotRef{ID: "s"}}, k1, Operation{})

	has, err := c.Has(k2)
	assert.NilError(t, err)
	assert.Check(t, has)
}

func TestEvictRemovesEntryAndBlob(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	key := testKey("op", "i1")

	c.Put(ctx, CachedResult{Snapshot: SnapshotRef{ID: "s"}}, key, Operation{})
	has, err := c.Has(key)
	assert.NilError(t, err)
	assert.Check(t, has)

	cacheDigest, err := deriveDigest(c.config.CacheKeyVersion, key)
	assert.NilError(t, err)
	assert.NilError(t, c.Evict(ctx, cacheDigest))

	has, err = c.Has(key)
	assert.NilError(t, err)
	assert.Check(t, !has)
}

func TestStatisticsReflectsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	key := testKey("op", "i1")

	_, _ = c.Get(ctx, key, Operation{})
	c.Put(ctx, CachedResult{Snapshot: SnapshotRef{ID: "s"}}, key, Operation{})
	_, _ = c.Get(ctx, key, Operation{})

	stats, err := c.Statistics()
	assert.NilError(t, err)
	assert.Check(t, stats.EntryCount == 1)
	assert.Check(t, stats.HitRate > 0 && stats.HitRate < 1)
	assert.Check(t, stats.Policy == "lru")
}

func TestSizeBoundedEvictionKeepsTotalUnderTarget(t *testing.T) {
	ctx := context.Background()
	config := Configuration{
		MaxSize:         200,
		IndexPath:       filepath.Join(t.TempDir(), "index.db"),
		EvictionPolicy:  LRU,
		CacheKeyVersion: "v1",
	}
	c, err := Open(config, contentstore.NewMemStore())
	assert.NilError(t, err)
	defer c.Close()

	for i := 0; i < 20; i++ {
		key := testKey("op", string(rune('a'+i)))
		c.Put(ctx, CachedResult{Snapshot: SnapshotRef{ID: "s", Size: int64(i)}}, key, Operation{})
		time.Sleep(time.Millisecond)
	}

	stats, err := c.Statistics()
	assert.NilError(t, err)
	assert.Check(t, stats.TotalBytes <= config.MaxSize)
}
