package diffkey

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"

	"github.com/moby/buildcore/content"
	"github.com/moby/buildcore/diff"
)

// ComputeOptions parameterizes one Compute call.
type ComputeOptions struct {
	// TargetMount is the host filesystem root the target side of each
	// record's path is resolved against, used only to compute content
	// hashes (§4.3.3). May be empty, in which case every content hash is
	// absent ("-").
	TargetMount string

	// BaseMount is the host filesystem root the base side of a Deleted
	// record's path is resolved against, used only to resolve the
	// deleted entry's node type and opaque-directory flag (§9 Open
	// Questions: nil/empty means every Deleted nodeType is "-").
	BaseMount string

	// BaseDigest, if present, is the digest of the base snapshot this
	// diff set was computed against.
	BaseDigest *digest.Digest

	// CoupleToBase selects the domain-separation tag (§4.3.7): when
	// false the key is independent of the base snapshot entirely.
	CoupleToBase bool
}

// Compute implements the full canonical Merkle computation of §4.3: per-
// record encoding, exclusion of socket/device entries, content hashing,
// sorting, binary Merkle fold, and base-lineage domain separation.
//
// Compute is pure with respect to record order: any permutation of records
// yields the same Key (§8 property 1).
func Compute(records []diff.Record, opts ComputeOptions) (Key, error) {
	leaves, err := encodeLeaves(records, opts)
	if err != nil {
		return "", err
	}
	root := merkleRoot(leaves)
	return domainSeparate(root, opts), nil
}

func encodeLeaves(records []diff.Record, opts ComputeOptions) ([][]byte, error) {
	var encoded [][]byte
	for _, r := range records {
		switch r.Tag {
		case diff.Added, diff.Modified:
			if r.IsSpecial() {
				continue // §4.3.2: socket/device entries excluded
			}
			ch, err := contentHashFor(r, opts.TargetMount)
			if err != nil {
				return nil, err
			}
			if r.Tag == diff.Added {
				encoded = append(encoded, encodeAdded(r, ch))
			} else {
				encoded = append(encoded, encodeModified(r, ch))
			}

		case diff.Deleted:
			nodeType, opaque := resolveDeletedBaseSide(r, opts.BaseMount)
			if nodeType == "dev" || nodeType == "sock" {
				continue // §4.3.2
			}
			encoded = append(encoded, encodeDeleted(r, nodeType, opaque))
		}
	}

	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})
	return encoded, nil
}

// contentHashFor implements §4.3.3: emitted only for regular files that are
// Added or Modified-with-contentChanged, and only if the target file still
// exists at hash time.
func contentHashFor(r diff.Record, targetMount string) (string, error) {
	if r.Node != diff.NodeRegular {
		return missingScalar, nil
	}
	if r.Tag == diff.Modified && r.Kind != diff.ModContentChanged {
		return missingScalar, nil
	}
	if targetMount == "" {
		return missingScalar, nil
	}

	full := filepath.Join(targetMount, r.Path.String())
	d, err := content.HashFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return missingScalar, nil
		}
		return "", err
	}
	return d.Encoded(), nil
}

// resolveDeletedBaseSide implements the Deleted-record base-side stat in
// §4.3.1/§9: nodeType is "-" whenever baseMount is empty or the stat fails;
// opaque is true only when the deleted path was itself a non-empty
// directory on the base side.
func resolveDeletedBaseSide(r diff.Record, baseMount string) (nodeType string, opaque bool) {
	if baseMount == "" {
		return missingScalar, false
	}
	full := filepath.Join(baseMount, r.Path.String())
	info, err := os.Lstat(full)
	if err != nil {
		return missingScalar, false
	}
	node := content.NodeKindFromMode(info.Mode())
	nodeType = nodeASCII(node)
	if node == diff.NodeDirectory {
		entries, err := os.ReadDir(full)
		opaque = err == nil && len(entries) > 0
	}
	return nodeType, opaque
}

// merkleRoot implements §4.3.6.
func merkleRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		sum := sha256.Sum256(append([]byte{0x45}, "empty"...))
		return sum[:]
	}

	hashes := make([][]byte, len(leaves))
	for i, l := range leaves {
		sum := sha256.Sum256(append([]byte{0x4C}, l...))
		hashes[i] = sum[:]
	}
	if len(hashes) == 1 {
		return hashes[0]
	}

	for len(hashes) > 1 {
		var next [][]byte
		for i := 0; i < len(hashes); i += 2 {
			left := hashes[i]
			right := left
			if i+1 < len(hashes) {
				right = hashes[i+1]
			}
			inner := append([]byte{0x49}, left...)
			inner = append(inner, right...)
			sum := sha256.Sum256(inner)
			next = append(next, sum[:])
		}
		hashes = next
	}
	return hashes[0]
}

// domainSeparate implements §4.3.7.
func domainSeparate(root []byte, opts ComputeOptions) Key {
	var baseTag string
	switch {
	case !opts.CoupleToBase:
		baseTag = "anybase"
	case opts.BaseDigest != nil:
		baseTag = opts.BaseDigest.String()
	default:
		baseTag = "scratch"
	}

	prefixBytes := []byte("diffkey:v1|" + baseTag + "|")
	sum := sha256.Sum256(append(prefixBytes, root...))
	return formatKey(sum)
}
