package content

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/pkg/errors"

	"github.com/moby/buildcore/binarypath"
	"github.com/moby/buildcore/diff"
)

// entry is what a directory walk records about one path, relative to the
// tree root, for later comparison against the other side.
type entry struct {
	relPath  string
	fullPath string
	info     os.FileInfo
	linkDest string
}

func walkTree(root string) (map[string]entry, error) {
	out := make(map[string]entry)
	root = filepath.Clean(root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := entry{relPath: filepath.ToSlash(rel), fullPath: path, info: info}
		if info.Mode()&os.ModeSymlink != 0 {
			dest, err := os.Readlink(path)
			if err != nil {
				return err
			}
			e.linkDest = dest
		}
		out[e.relPath] = e
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "content: walking %s", root)
	}
	return out, nil
}

// NodeKindFromMode classifies a Go os.FileMode into the Node enumeration
// used by diff records and DiffKey encoding.
func NodeKindFromMode(mode os.FileMode) diff.Node {
	return nodeKind(mode)
}

func nodeKind(mode os.FileMode) diff.Node {
	switch {
	case mode&os.ModeSymlink != 0:
		return diff.NodeSymlink
	case mode&os.ModeDir != 0:
		return diff.NodeDirectory
	case mode&os.ModeDevice != 0:
		return diff.NodeDevice
	case mode&os.ModeNamedPipe != 0:
		return diff.NodeFIFO
	case mode&os.ModeSocket != 0:
		return diff.NodeSocket
	default:
		return diff.NodeRegular
	}
}

func attributesOf(e entry) diff.Attributes {
	perm := uint32(e.info.Mode().Perm())
	size := e.info.Size()
	mtime := e.info.ModTime()
	attrs := diff.Attributes{
		Permissions: &perm,
		Size:        &size,
		ModTime:     &mtime,
	}
	if e.linkDest != "" {
		target := binarypath.New(e.linkDest)
		attrs.LinkTarget = &target
	}
	if sys, ok := e.info.Sys().(*syscall.Stat_t); ok {
		uid, gid, nlink := uint32(sys.Uid), uint32(sys.Gid), uint32(sys.Nlink)
		attrs.UID, attrs.GID, attrs.Nlink = &uid, &gid, &nlink
	}
	return attrs
}

// WalkDiff compares the real directory trees rooted at basePath and
// targetPath and returns the diff records describing how to get from the
// former to the latter. basePath may be empty, in which case every entry
// under targetPath is reported Added.
//
// This is the one real, producer used outside of tests: DiffKey computation
// itself (package diffkey) never depends on how its input records were
// produced, per the Open Question resolution in SPEC_FULL.md.
func WalkDiff(basePath, targetPath string) ([]diff.Record, error) {
	var base map[string]entry
	var err error
	if basePath != "" {
		base, err = walkTree(basePath)
		if err != nil {
			return nil, err
		}
	}
	target, err := walkTree(targetPath)
	if err != nil {
		return nil, err
	}

	var records []diff.Record
	for relPath, t := range target {
		p := binarypath.New("/" + relPath)
		b, existed := base[relPath]
		if !existed {
			records = append(records, diff.NewAdded(p, nodeKind(t.info.Mode()), attributesOf(t)))
			continue
		}

		kind, changed, err := compareEntries(b, t)
		if err != nil {
			return nil, err
		}
		if changed {
			records = append(records, diff.NewModified(p, kind, nodeKind(t.info.Mode()), attributesOf(t)))
		}
	}
	for relPath, b := range base {
		if _, ok := target[relPath]; ok {
			continue
		}
		records = append(records, diff.NewDeleted(binarypath.New("/"+relPath)))
		_ = b
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Path.Compare(records[j].Path) < 0
	})
	return records, nil
}

func compareEntries(base, target entry) (diff.ModKind, bool, error) {
	baseNode, targetNode := nodeKind(base.info.Mode()), nodeKind(target.info.Mode())
	if baseNode != targetNode {
		return diff.ModTypeChanged, true, nil
	}
	if baseNode == diff.NodeSymlink {
		if base.linkDest != target.linkDest {
			return diff.ModSymlinkTargetChanged, true, nil
		}
		return "", false, nil
	}
	if baseNode == diff.NodeDirectory || baseNode == diff.NodeSocket || baseNode == diff.NodeDevice || baseNode == diff.NodeFIFO {
		if base.info.Mode().Perm() != target.info.Mode().Perm() {
			return diff.ModMetadataOnly, true, nil
		}
		return "", false, nil
	}

	// Regular file: content takes priority over a pure metadata change.
	if base.info.Size() != target.info.Size() || base.info.ModTime() != target.info.ModTime() {
		kind, err := CompareFiles(&base.fullPath, &target.fullPath, false)
		if err != nil {
			return "", false, err
		}
		return kind, true, nil
	}
	if base.info.Mode().Perm() != target.info.Mode().Perm() {
		return diff.ModMetadataOnly, true, nil
	}
	return "", false, nil
}
