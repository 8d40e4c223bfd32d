package cache

import (
	"time"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// SchemaVersion is the current on-blob cache manifest schema (§6).
const SchemaVersion = 5

// MediaType identifies the serialized cache manifest blob.
const MediaType = "application/vnd.container-build.cache.manifest.v5+json"

// ManifestConfig carries the descriptive fields of the operation that
// produced a cache entry; it is informational, not part of the cache
// digest derivation.
type ManifestConfig struct {
	CacheKey      Key              `json:"cacheKey"`
	OperationType string           `json:"operationType"`
	Platform      ocispec.Platform `json:"platform"`
	BuildVersion  string           `json:"buildVersion"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// SnapshotRef embeds just enough of a committed snapshot to reconstruct it
// as a new head without re-deriving its diff.
type SnapshotRef struct {
	ID             string         `json:"id"`
	Digest         digest.Digest  `json:"digest"`
	Size           int64          `json:"size"`
	Parent         *string        `json:"parent,omitempty"`
	LayerDigest    *digest.Digest `json:"layerDigest,omitempty"`
	LayerSize      *int64         `json:"layerSize,omitempty"`
	LayerMediaType string         `json:"layerMediaType,omitempty"`
	DiffKey        string         `json:"diffKey,omitempty"`
}

// Manifest is the sole blob stored per cache entry: it embeds the snapshot
// reference directly rather than pointing at separate layer blobs (v5
// design note in §6).
type Manifest struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaType     string            `json:"mediaType"`
	Config        ManifestConfig    `json:"config"`
	Annotations   map[string]string `json:"annotations"`
	Subject       *ocispec.Descriptor `json:"subject,omitempty"`
	Snapshot      *SnapshotRef      `json:"snapshot,omitempty"`

	EnvironmentChanges map[string]string `json:"environmentChanges"`
	MetadataChanges    map[string]string `json:"metadataChanges"`
}
