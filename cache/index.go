package cache

import (
	"encoding/json"
	"sort"
	"time"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/moby/buildcore/errdefs"
)

var indexBucket = []byte("_index")

// EntryMetadata is the non-addressing half of an index entry (§6).
type EntryMetadata struct {
	CreatedAt    time.Time         `json:"createdAt"`
	AccessedAt   time.Time         `json:"accessedAt"`
	OperationHash string           `json:"operationHash"`
	Platform     ocispec.Platform  `json:"platform"`
	TTL          *time.Duration    `json:"ttl,omitempty"`
	Tags         map[string]string `json:"tags"`
}

// Entry is the durable record a CacheIndex stores per cache digest.
type Entry struct {
	Descriptor ocispec.Descriptor `json:"descriptor"`
	Metadata   EntryMetadata      `json:"metadata"`
}

// Index is a small durable digest -> entry map backed by a bbolt database
// at configuration.indexPath (§6), mirroring the bucket layout
// buildkit's cache/metadata store uses for its own index bucket.
type Index struct {
	db *bolt.DB
}

// OpenIndex opens (creating if necessary) the bbolt database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errdefs.StorageFailure("open cache index", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errdefs.StorageFailure("initialize cache index", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Get looks up the entry for a cache digest. Returns errdefs.NotFound if
// absent.
func (ix *Index) Get(cacheDigest digest.Digest) (Entry, error) {
	var entry Entry
	found := false
	err := ix.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		v := b.Get([]byte(cacheDigest.String()))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &entry)
	})
	if err != nil {
		return Entry{}, errdefs.StorageFailure("read cache index", err)
	}
	if !found {
		return Entry{}, errdefs.NotFound("cache index entry", cacheDigest.String(), nil)
	}
	return entry, nil
}

// Put inserts or overwrites the entry for cacheDigest.
func (ix *Index) Put(cacheDigest digest.Digest, entry Entry) error {
	dt, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "cache: encode index entry")
	}
	err = ix.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		return b.Put([]byte(cacheDigest.String()), dt)
	})
	if err != nil {
		return errdefs.StorageFailure("write cache index", err)
	}
	return nil
}

// Remove deletes the entries for the given cache digests. Missing digests
// are not an error.
func (ix *Index) Remove(digests ...digest.Digest) error {
	err := ix.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		for _, d := range digests {
			if err := b.Delete([]byte(d.String())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errdefs.StorageFailure("remove cache index entries", err)
	}
	return nil
}

// IndexStatistics summarizes the entries currently in the index. HitRate is
// left to the Cache layer, which is the only thing that observes misses;
// the index itself only ever sees entries that exist.
type IndexStatistics struct {
	EntryCount   int
	TotalBytes   int64
	OldestEntry  time.Time
	NewestEntry  time.Time
	AvgEntrySize int64
	Policy       string
}

// Statistics reports index-derived aggregates (§6 CacheIndex.statistics()).
func (ix *Index) Statistics() (IndexStatistics, error) {
	entries, err := ix.AllEntries()
	if err != nil {
		return IndexStatistics{}, err
	}
	stats := IndexStatistics{Policy: "lru"}
	if len(entries) == 0 {
		return stats, nil
	}
	stats.EntryCount = len(entries)
	stats.OldestEntry = entries[0].Entry.Metadata.CreatedAt
	stats.NewestEntry = entries[0].Entry.Metadata.CreatedAt
	for _, e := range entries {
		stats.TotalBytes += e.Entry.Descriptor.Size
		if e.Entry.Metadata.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = e.Entry.Metadata.CreatedAt
		}
		if e.Entry.Metadata.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = e.Entry.Metadata.CreatedAt
		}
	}
	stats.AvgEntrySize = stats.TotalBytes / int64(stats.EntryCount)
	return stats, nil
}

// IndexedEntry pairs a cache digest with its entry, for enumeration.
type IndexedEntry struct {
	Digest digest.Digest
	Entry  Entry
}

// AllEntries returns every entry, ordered by digest string for
// deterministic iteration.
func (ix *Index) AllEntries() ([]IndexedEntry, error) {
	var out []IndexedEntry
	err := ix.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		return b.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, IndexedEntry{Digest: digest.Digest(string(k)), Entry: entry})
			return nil
		})
	})
	if err != nil {
		return nil, errdefs.StorageFailure("scan cache index", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest.String() < out[j].Digest.String() })
	return out, nil
}
