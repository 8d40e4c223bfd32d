// Package scheduler implements the Scheduler & Operation Executors (§4.7):
// it walks a build graph in dependency order, dispatches each node to the
// executor that claims its kind, and mediates cache hits/misses around
// each dispatch.
package scheduler

import (
	"context"
	"sync"

	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/moby/buildcore/cache"
	"github.com/moby/buildcore/errdefs"
	"github.com/moby/buildcore/execcontext"
	"github.com/moby/buildcore/graph"
	"github.com/moby/buildcore/snapshot"
)

// Executor claims and runs one Op kind. On a cache miss, Run performs the
// operation's (simulated or real) side effects over the prepared snapshot
// and returns the CommitOptions a Differ derived over the resulting delta,
// plus the environment/metadata changes the operation produced.
type Executor interface {
	Claims() graph.OpKind
	Run(ctx context.Context, op graph.Op, s snapshot.Snapshot) (RunResult, error)
}

// RunResult is what an Executor reports back to the scheduler after a
// cache-miss execution.
type RunResult struct {
	CommitOptions      snapshot.CommitOptions
	EnvironmentChanges map[string]string
	MetadataChanges    map[string]string
}

// Configuration tunes the scheduler's walk (§4.7: "honors a configurable
// max-concurrency and a fail-fast flag").
type Configuration struct {
	MaxConcurrency int
	FailFast       bool
	BuildVersion   string
}

// Scheduler dispatches each build graph node to the executor that claims
// it, deriving a CacheKey per node and consulting the cache before running
// the executor body.
type Scheduler struct {
	config    Configuration
	cache     *cache.Cache
	executors map[graph.OpKind]Executor
	execCtx   *execcontext.Context
}

// New constructs a Scheduler over execCtx, consulting c for cache
// hits/misses and dispatching to executors by the OpKind they claim.
func New(config Configuration, c *cache.Cache, execCtx *execcontext.Context, executors ...Executor) *Scheduler {
	byKind := make(map[graph.OpKind]Executor, len(executors))
	for _, e := range executors {
		byKind[e.Claims()] = e
	}
	return &Scheduler{config: config, cache: c, executors: byKind, execCtx: execCtx}
}

// NodeResult records the outcome of scheduling a single node, for callers
// that want a post-run report.
type NodeResult struct {
	NodeID   graph.NodeID
	CacheHit bool
	Snapshot snapshot.Snapshot
}

// Run validates g, then walks it in dependency order, running each level
// of independent nodes concurrently up to config.MaxConcurrency. With
// FailFast set, the first node error cancels remaining in-flight and
// not-yet-started nodes; without it, each node error is logged, the walk
// continues, and Run returns the results of the nodes that succeeded with a
// nil error.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph) ([]NodeResult, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	order := g.TopologicalOrder()
	depth := make(map[graph.NodeID]int, len(order))
	for _, id := range order {
		node := g.Nodes[id]
		max := 0
		for _, dep := range node.Dependencies {
			if depth[dep]+1 > max {
				max = depth[dep] + 1
			}
		}
		depth[id] = max
	}

	levels := map[int][]graph.NodeID{}
	maxLevel := 0
	for _, id := range order {
		levels[depth[id]] = append(levels[depth[id]], id)
		if depth[id] > maxLevel {
			maxLevel = depth[id]
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[graph.NodeID]NodeResult, len(order))
	)

	for level := 0; level <= maxLevel; level++ {
		nodeIDs := levels[level]
		if len(nodeIDs) == 0 {
			continue
		}
		group, groupCtx := errgroup.WithContext(ctx)
		if s.config.MaxConcurrency > 0 {
			group.SetLimit(s.config.MaxConcurrency)
		}

		for _, id := range nodeIDs {
			id := id
			node := g.Nodes[id]
			group.Go(func() error {
				result, err := s.runNode(groupCtx, node)
				if err != nil {
					if s.config.FailFast {
						return errors.Wrapf(err, "scheduler: node %s", id)
					}
					logrus.WithError(err).WithField("node", id).Error("scheduler: node failed, continuing (fail-fast disabled)")
					return nil
				}
				mu.Lock()
				results[id] = result
				mu.Unlock()
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return nil, err
		}
	}

	out := make([]NodeResult, 0, len(order))
	for _, id := range order {
		if r, ok := results[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Scheduler) runNode(ctx context.Context, node graph.Node) (NodeResult, error) {
	executor, ok := s.executors[node.Op.Kind]
	if !ok {
		return NodeResult{}, errdefs.UnsupportedOperation(string(node.Op.Kind))
	}

	key := s.deriveCacheKey(node)
	cached, err := s.cache.Get(ctx, key, cache.Operation{Type: string(node.Op.Kind), BuildVersion: s.config.BuildVersion})
	if err != nil {
		return NodeResult{}, err
	}
	if cached != nil {
		s.execCtx.MergeEnvironment(cached.EnvironmentChanges)
		promoted, err := s.promoteCachedSnapshot(ctx, node.ID, cached.Snapshot)
		if err != nil {
			return NodeResult{}, err
		}
		return NodeResult{NodeID: node.ID, CacheHit: true, Snapshot: promoted}, nil
	}

	opID := execcontext.OpID(node.ID)
	result, committed, err := s.execCtx.WithSnapshot(ctx, opID, nil, func(ctx context.Context, snap snapshot.Snapshot) (interface{}, snapshot.CommitOptions, error) {
		runResult, err := executor.Run(ctx, node.Op, snap)
		if err != nil {
			return nil, snapshot.CommitOptions{}, err
		}
		return runResult, runResult.CommitOptions, nil
	})
	if err != nil {
		return NodeResult{}, errdefs.WrapExecutionFailed(err, string(node.ID), s.execCtx.Environment(), s.execCtx.WorkingDirectory(), nil)
	}

	runResult := result.(RunResult)
	s.execCtx.MergeEnvironment(runResult.EnvironmentChanges)

	s.cache.Put(ctx, cache.CachedResult{
		Snapshot:           snapshotRefFrom(committed),
		EnvironmentChanges: runResult.EnvironmentChanges,
		MetadataChanges:    runResult.MetadataChanges,
	}, key, cache.Operation{Type: string(node.Op.Kind), BuildVersion: s.config.BuildVersion})

	return NodeResult{NodeID: node.ID, CacheHit: false, Snapshot: committed}, nil
}

// promoteCachedSnapshot makes a cache-hit's stored snapshot the context's
// new head without re-running the operation, per §4.7 step 2.
func (s *Scheduler) promoteCachedSnapshot(ctx context.Context, opID graph.NodeID, ref cache.SnapshotRef) (snapshot.Snapshot, error) {
	var parent *snapshot.ID
	if ref.Parent != nil {
		id := snapshot.ID(*ref.Parent)
		parent = &id
	}
	restored := snapshot.NewPrepared(snapshot.ID(ref.ID), parent, "")
	opts := snapshot.CommitOptions{
		Digest:         ref.Digest,
		Size:           ref.Size,
		LayerDigest:    ref.LayerDigest,
		LayerSize:      ref.LayerSize,
		LayerMediaType: ref.LayerMediaType,
	}
	return s.execCtx.PrepareAndCommit(ctx, execcontext.OpID(opID), &restored, opts)
}

// deriveCacheKey builds a cache.Key from a node's own content digest and
// the digests of its dependencies' committed snapshots.
func (s *Scheduler) deriveCacheKey(node graph.Node) cache.Key {
	inputs := make([]digest.Digest, 0, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		if snap, ok := s.execCtx.SnapshotFor(execcontext.OpID(dep)); ok {
			inputs = append(inputs, snap.Digest)
		}
	}
	return cache.Key{
		OperationDigest: node.Op.ContentDigest,
		InputDigests:    inputs,
		Platform:        s.execCtx.Platform,
	}
}

func snapshotRefFrom(s snapshot.Snapshot) cache.SnapshotRef {
	var parent *string
	if s.Parent != nil {
		p := string(*s.Parent)
		parent = &p
	}
	var diffKey string
	if s.DiffKey != nil {
		diffKey = s.DiffKey.String()
	}
	return cache.SnapshotRef{
		ID:             string(s.ID),
		Digest:         s.Digest,
		Size:           s.Size,
		Parent:         parent,
		LayerDigest:    s.LayerDigest,
		LayerSize:      s.LayerSize,
		LayerMediaType: s.LayerMediaType,
		DiffKey:        diffKey,
	}
}
