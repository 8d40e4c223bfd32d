package snapshot

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalSnapshotter is a reference Snapshotter backed by plain directories
// under Root, one per snapshot ID. It does not mount or unmount anything --
// actual mount/unmount primitives are an out-of-scope OS collaborator per
// the design's scope statement -- it only allocates and releases the
// directory a real mounter would bind-mount a snapshot onto. It exists so
// ExecutionContext and the scheduler have something concrete to drive in
// tests.
type LocalSnapshotter struct {
	Root string
}

func NewLocalSnapshotter(root string) *LocalSnapshotter {
	return &LocalSnapshotter{Root: root}
}

func (l *LocalSnapshotter) dir(id ID) string {
	return filepath.Join(l.Root, string(id))
}

func (l *LocalSnapshotter) Prepare(ctx context.Context, s Snapshot) (Snapshot, error) {
	dir := l.dir(s.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Snapshot{}, errors.Wrapf(err, "snapshot: prepare %s", s.ID)
	}
	s.Mountpoint = dir
	return s, nil
}

func (l *LocalSnapshotter) Commit(ctx context.Context, s Snapshot) (Snapshot, error) {
	if _, err := os.Stat(l.dir(s.ID)); err != nil {
		return Snapshot{}, errors.Wrapf(err, "snapshot: commit %s", s.ID)
	}
	return s, nil
}

func (l *LocalSnapshotter) Remove(ctx context.Context, s Snapshot) error {
	if err := os.RemoveAll(l.dir(s.ID)); err != nil {
		return errors.Wrapf(err, "snapshot: remove %s", s.ID)
	}
	return nil
}
