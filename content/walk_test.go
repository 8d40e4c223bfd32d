package content

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moby/buildcore/diff"
)

func TestWalkDiffAddedModifiedDeleted(t *testing.T) {
	base := t.TempDir()
	target := t.TempDir()

	assert.NilError(t, os.WriteFile(filepath.Join(base, "unchanged"), []byte("same"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(target, "unchanged"), []byte("same"), 0o644))

	assert.NilError(t, os.WriteFile(filepath.Join(base, "removed"), []byte("gone"), 0o644))

	assert.NilError(t, os.WriteFile(filepath.Join(base, "changed"), []byte("before"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(target, "changed"), []byte("after-different-length"), 0o644))

	assert.NilError(t, os.WriteFile(filepath.Join(target, "new"), []byte("new file"), 0o644))

	records, err := WalkDiff(base, target)
	assert.NilError(t, err)

	byPath := map[string]diff.Record{}
	for _, r := range records {
		byPath[r.Path.String()] = r
	}

	added, ok := byPath["/new"]
	assert.Check(t, ok)
	assert.Check(t, added.Tag == diff.Added)

	deleted, ok := byPath["/removed"]
	assert.Check(t, ok)
	assert.Check(t, deleted.Tag == diff.Deleted)

	modified, ok := byPath["/changed"]
	assert.Check(t, ok)
	assert.Check(t, modified.Tag == diff.Modified)
	assert.Check(t, modified.Kind == diff.ModContentChanged)

	_, ok = byPath["/unchanged"]
	assert.Check(t, !ok)
}

func TestWalkDiffEmptyBaseReportsAllAdded(t *testing.T) {
	target := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(target, "a"), []byte("x"), 0o644))

	records, err := WalkDiff("", target)
	assert.NilError(t, err)
	assert.Check(t, len(records) == 1)
	assert.Check(t, records[0].Tag == diff.Added)
}
