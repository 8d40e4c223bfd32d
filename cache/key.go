package cache

import (
	"sort"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Key identifies a cacheable operation: its content digest, the digests of
// everything it consumed, and the platform it ran under. Equality is
// set-equality on InputDigests -- a Key is logically a set, and callers may
// construct it from inputs observed in any order.
type Key struct {
	OperationDigest digest.Digest
	InputDigests    []digest.Digest
	Platform        ocispec.Platform
}

// sortedInputs returns InputDigests sorted by string value ascending,
// without mutating the receiver. Cache digest derivation (§4.6.1) folds
// over this order so that permuting InputDigests never changes the result.
func (k Key) sortedInputs() []digest.Digest {
	out := append([]digest.Digest{}, k.InputDigests...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
