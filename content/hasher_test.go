package content

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/moby/buildcore/diff"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	assert.NilError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestHashFileStable(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a", "hello world")

	d1, err := HashFile(p)
	assert.NilError(t, err)
	d2, err := HashFile(p)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(d1, d2))
}

func TestHashFileDiffersOnContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", "hello")
	b := writeFile(t, dir, "b", "world")

	da, err := HashFile(a)
	assert.NilError(t, err)
	db, err := HashFile(b)
	assert.NilError(t, err)
	assert.Check(t, da != db)
}

func TestCompareFilesAttributesOnly(t *testing.T) {
	kind, err := CompareFiles(nil, nil, true)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(kind, diff.ModMetadataOnly))
}

func TestCompareFilesAbsentSide(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a", "x")
	kind, err := CompareFiles(nil, &p, false)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(kind, diff.ModContentChanged))
}

func TestCompareFilesSameContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", "same")
	b := writeFile(t, dir, "b", "same")
	kind, err := CompareFiles(&a, &b, false)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(kind, diff.ModMetadataOnly))
}

func TestCompareFilesDifferentContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", "one")
	b := writeFile(t, dir, "b", "two")
	kind, err := CompareFiles(&a, &b, false)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(kind, diff.ModContentChanged))
}
