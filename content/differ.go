package content

import (
	"github.com/moby/buildcore/diff"
)

// CompareFiles implements FileContentDiffer (§4.2). basePath and targetPath
// are nil when the corresponding side is absent. attributesOnly short-
// circuits to ModMetadataOnly without touching the filesystem, for callers
// that already know only metadata changed (e.g. a permission-only update
// detected via stat before any content comparison is attempted).
//
// Callers must not invoke this for symlinks, sockets, or devices: symlink
// target comparison is metadata, and sockets/devices have no content to
// compare.
func CompareFiles(basePath, targetPath *string, attributesOnly bool) (diff.ModKind, error) {
	if attributesOnly {
		return diff.ModMetadataOnly, nil
	}
	if basePath == nil || targetPath == nil {
		return diff.ModContentChanged, nil
	}

	baseDigest, err := HashFile(*basePath)
	if err != nil {
		return "", err
	}
	targetDigest, err := HashFile(*targetPath)
	if err != nil {
		return "", err
	}
	if baseDigest == targetDigest {
		return diff.ModMetadataOnly, nil
	}
	return diff.ModContentChanged, nil
}
