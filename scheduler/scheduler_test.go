package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"gotest.tools/v3/assert"

	"github.com/moby/buildcore/cache"
	"github.com/moby/buildcore/contentstore"
	"github.com/moby/buildcore/execcontext"
	"github.com/moby/buildcore/graph"
	"github.com/moby/buildcore/snapshot"
)

type stubExecutor struct {
	kind  graph.OpKind
	calls int
}

func (e *stubExecutor) Claims() graph.OpKind { return e.kind }

func (e *stubExecutor) Run(ctx context.Context, op graph.Op, s snapshot.Snapshot) (RunResult, error) {
	e.calls++
	return RunResult{
		CommitOptions: snapshot.CommitOptions{
			Digest: digest.FromString(string(op.Kind) + string(s.ID)),
			Size:   1024,
		},
		EnvironmentChanges: map[string]string{"STEP": string(op.Kind)},
	}, nil
}

func newTestScheduler(t *testing.T, executors ...Executor) (*Scheduler, *execcontext.Context) {
	t.Helper()
	snapshotter := snapshot.NewLocalSnapshotter(t.TempDir())
	execCtx := execcontext.New("build", ocispec.Platform{Architecture: "amd64", OS: "linux"}, snapshotter)

	c, err := cache.Open(cache.Configuration{
		MaxSize:         1 << 30,
		IndexPath:       filepath.Join(t.TempDir(), "index.db"),
		EvictionPolicy:  cache.LRU,
		CacheKeyVersion: "v1",
	}, contentstore.NewMemStore())
	assert.NilError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return New(Configuration{MaxConcurrency: 4, FailFast: true}, c, execCtx, executors...), execCtx
}

func TestRunWalksLinearGraphInOrder(t *testing.T) {
	image := &stubExecutor{kind: graph.OpImage}
	fs := &stubExecutor{kind: graph.OpFilesystem}
	exec := &stubExecutor{kind: graph.OpExec}
	s, _ := newTestScheduler(t, image, fs, exec)

	g := graph.New("build", ocispec.Platform{Architecture: "amd64", OS: "linux"})
	g.AddNode(graph.Node{ID: "base", Op: graph.Op{Kind: graph.OpImage, ContentDigest: digest.FromString("base")}})
	g.AddNode(graph.Node{ID: "copy", Op: graph.Op{Kind: graph.OpFilesystem, ContentDigest: digest.FromString("copy")}, Dependencies: []graph.NodeID{"base"}})
	g.AddNode(graph.Node{ID: "run", Op: graph.Op{Kind: graph.OpExec, ContentDigest: digest.FromString("run")}, Dependencies: []graph.NodeID{"copy"}})

	results, err := s.Run(context.Background(), g)
	assert.NilError(t, err)
	assert.Check(t, len(results) == 3)
	assert.Check(t, image.calls == 1)
	assert.Check(t, fs.calls == 1)
	assert.Check(t, exec.calls == 1)
}

func TestRunSecondPassHitsCache(t *testing.T) {
	image := &stubExecutor{kind: graph.OpImage}
	s, _ := newTestScheduler(t, image)

	g := graph.New("build", ocispec.Platform{Architecture: "amd64", OS: "linux"})
	g.AddNode(graph.Node{ID: "base", Op: graph.Op{Kind: graph.OpImage, ContentDigest: digest.FromString("base")}})

	_, err := s.Run(context.Background(), g)
	assert.NilError(t, err)
	assert.Check(t, image.calls == 1)

	execCtx2 := execcontext.New("build", ocispec.Platform{Architecture: "amd64", OS: "linux"}, snapshotterOf(t))
	s2 := New(Configuration{MaxConcurrency: 4, FailFast: true}, cacheOf(s), execCtx2, image)

	_, err = s2.Run(context.Background(), g)
	assert.NilError(t, err)
	assert.Check(t, image.calls == 1, "second run should hit cache and not re-invoke the executor")
}

func TestRunRejectsUnclaimedOpKind(t *testing.T) {
	s, _ := newTestScheduler(t)
	g := graph.New("build", ocispec.Platform{Architecture: "amd64", OS: "linux"})
	g.AddNode(graph.Node{ID: "base", Op: graph.Op{Kind: graph.OpImage, ContentDigest: digest.FromString("base")}})

	_, err := s.Run(context.Background(), g)
	assert.Check(t, err != nil)
}

func snapshotterOf(t *testing.T) snapshot.Snapshotter {
	t.Helper()
	return snapshot.NewLocalSnapshotter(t.TempDir())
}

func cacheOf(s *Scheduler) *cache.Cache {
	return s.cache
}
