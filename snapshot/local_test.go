package snapshot

import (
	"context"
	"os"
	"testing"

	"gotest.tools/v3/assert"
)

func TestLocalSnapshotterPrepareCommitRemove(t *testing.T) {
	ctx := context.Background()
	snapshotter := NewLocalSnapshotter(t.TempDir())

	s := NewPrepared("s1", nil, "")
	prepared, err := snapshotter.Prepare(ctx, s)
	assert.NilError(t, err)
	assert.Check(t, prepared.Mountpoint != "")

	_, err = os.Stat(prepared.Mountpoint)
	assert.NilError(t, err)

	committed, err := snapshotter.Commit(ctx, prepared)
	assert.NilError(t, err)
	assert.Check(t, committed.ID == prepared.ID)

	assert.NilError(t, snapshotter.Remove(ctx, committed))
	_, err = os.Stat(prepared.Mountpoint)
	assert.Check(t, os.IsNotExist(err))
}
