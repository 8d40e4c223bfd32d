package execcontext

import (
	"context"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"

	"github.com/moby/buildcore/snapshot"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	snapshotter := snapshot.NewLocalSnapshotter(t.TempDir())
	return New("build", ocispec.Platform{Architecture: "amd64", OS: "linux"}, snapshotter)
}

func TestPrepareAndCommitAdvancesHead(t *testing.T) {
	ctx := context.Background()
	c := newTestContext(t)

	assert.Check(t, c.HeadSnapshot() == nil)

	committed, err := c.PrepareAndCommit(ctx, OpID("base"), nil, snapshot.CommitOptions{})
	assert.NilError(t, err)
	assert.Check(t, committed.State == snapshot.StateCommitted)

	head := c.HeadSnapshot()
	assert.Assert(t, head != nil)
	assert.Check(t, head.ID == committed.ID)
}

func TestWithSnapshotRootsChildAtHead(t *testing.T) {
	ctx := context.Background()
	c := newTestContext(t)

	base, err := c.PrepareAndCommit(ctx, OpID("base"), nil, snapshot.CommitOptions{})
	assert.NilError(t, err)

	_, committed, err := c.WithSnapshot(ctx, OpID("step-1"), nil, func(ctx context.Context, s snapshot.Snapshot) (interface{}, snapshot.CommitOptions, error) {
		return nil, snapshot.CommitOptions{}, nil
	})
	assert.NilError(t, err)
	assert.Assert(t, committed.Parent != nil)
	assert.Check(t, *committed.Parent == base.ID)
}

func TestWithSnapshotCleansUpOnBodyFailure(t *testing.T) {
	ctx := context.Background()
	c := newTestContext(t)

	_, _, err := c.WithSnapshot(ctx, OpID("step-1"), nil, func(ctx context.Context, s snapshot.Snapshot) (interface{}, snapshot.CommitOptions, error) {
		return nil, snapshot.CommitOptions{}, errors.New("simulated body failure")
	})
	assert.Check(t, err != nil)
	assert.Check(t, c.HeadSnapshot() == nil)
}

func TestEnvironmentMergePreservesUnrelatedKeys(t *testing.T) {
	c := newTestContext(t)
	c.SetEnvironment(map[string]string{"A": "1"})
	c.MergeEnvironment(map[string]string{"B": "2"})

	env := c.Environment()
	assert.Check(t, env["A"] == "1")
	assert.Check(t, env["B"] == "2")
}
