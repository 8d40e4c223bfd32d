// Package execcontext implements ExecutionContext (§4.5): the thread-safe
// per-stage holder that mediates every snapshot prepare/commit/cleanup and
// serializes filesystem-mutating work within a stage.
package execcontext

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/moby/buildcore/snapshot"
)

// ImageConfig is the subset of OCI image config an operation may read or
// amend (entrypoint/cmd are handled by the graph layer; this carries only
// what snapshot-producing operations need).
type ImageConfig struct {
	Env        []string
	WorkingDir string
	User       string
	Labels     map[string]string
}

// OpID identifies a single graph node's execution within a context.
type OpID string

// Context is ExecutionContext: per-stage mutable state plus the snapshot
// prepare/commit/cleanup wrapper every executor drives through.
type Context struct {
	Stage       string
	Platform    ocispec.Platform
	Snapshotter snapshot.Snapshotter

	mu          sync.Mutex
	environment map[string]string
	workingDir  string
	user        string
	imageConfig ImageConfig

	snapshots       map[OpID]snapshot.Snapshot
	activeSnapshots map[OpID]snapshot.Snapshot
	headSnapshot    *snapshot.Snapshot

	// fsPermit serializes prepare -> body -> commit/cleanup sequences
	// within this context (§5 per-context serialization); a single token
	// means at most one filesystem-mutating sequence runs at a time.
	fsPermit *semaphore.Weighted
}

// New constructs a fresh context for stage, with no head snapshot.
func New(stage string, platform ocispec.Platform, snapshotter snapshot.Snapshotter) *Context {
	return &Context{
		Stage:           stage,
		Platform:        platform,
		Snapshotter:     snapshotter,
		environment:     map[string]string{},
		snapshots:       map[OpID]snapshot.Snapshot{},
		activeSnapshots: map[OpID]snapshot.Snapshot{},
		fsPermit:        semaphore.NewWeighted(1),
	}
}

// Environment returns a copy of the current environment map.
func (c *Context) Environment() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.environment))
	for k, v := range c.environment {
		out[k] = v
	}
	return out
}

// SetEnvironment replaces the environment map entirely.
func (c *Context) SetEnvironment(env map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.environment = env
}

// MergeEnvironment applies a set of additions/overrides without discarding
// unrelated keys.
func (c *Context) MergeEnvironment(changes map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range changes {
		c.environment[k] = v
	}
}

func (c *Context) WorkingDirectory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workingDir
}

func (c *Context) SetWorkingDirectory(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workingDir = dir
}

func (c *Context) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Context) SetUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}

func (c *Context) ImageConfig() ImageConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imageConfig
}

func (c *Context) SetImageConfig(cfg ImageConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imageConfig = cfg
}

// HeadSnapshot returns the most recently committed snapshot for this
// context, or nil for a fresh context.
func (c *Context) HeadSnapshot() *snapshot.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headSnapshot == nil {
		return nil
	}
	s := *c.headSnapshot
	return &s
}

// SnapshotFor returns the committed snapshot recorded for opID, if any.
func (c *Context) SnapshotFor(opID OpID) (snapshot.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[opID]
	return s, ok
}

// nextMountpoint allocates a fresh per-operation mountpoint path. The
// trailing component is a truncated UUID rather than a sequence counter,
// the same way pkg/stringid builds short IDs on top of a real UUID rather
// than a predictable counter.
func (c *Context) nextMountpoint(opID OpID) string {
	return fmt.Sprintf("/var/lib/buildcore/%s/%s-%s", c.Stage, opID, uuid.NewString()[:8])
}

// PrepareSnapshot builds a new child snapshot rooted at the current head
// (or a fresh root if the context has no head yet, per §4.5), assigns it a
// per-operation mountpoint, asks the snapshotter to materialize it, and
// records it under activeSnapshots.
func (c *Context) PrepareSnapshot(ctx context.Context, opID OpID) (snapshot.Snapshot, error) {
	c.mu.Lock()
	var parent *snapshot.ID
	if c.headSnapshot != nil {
		id := c.headSnapshot.ID
		parent = &id
	}
	mountpoint := c.nextMountpoint(opID)
	c.mu.Unlock()

	s := snapshot.NewPrepared(snapshot.ID(opID), parent, mountpoint)
	prepared, err := c.Snapshotter.Prepare(ctx, s)
	if err != nil {
		return snapshot.Snapshot{}, errors.Wrapf(err, "execcontext: prepare %s", opID)
	}

	c.mu.Lock()
	c.activeSnapshots[opID] = prepared
	c.mu.Unlock()

	return prepared, nil
}

// CommitSnapshot asks the snapshotter to finalize s, applies opts (the
// layer digest/size/DiffKey a Differ computed over the prepare-to-commit
// delta), moves it from activeSnapshots into snapshots[opID], and advances
// headSnapshot. After this returns, any subsequent PrepareSnapshot
// observes the new head (§5 ordering guarantee).
func (c *Context) CommitSnapshot(ctx context.Context, s snapshot.Snapshot, opID OpID, opts snapshot.CommitOptions) (snapshot.Snapshot, error) {
	materialized, err := c.Snapshotter.Commit(ctx, s)
	if err != nil {
		return snapshot.Snapshot{}, errors.Wrapf(err, "execcontext: commit %s", opID)
	}
	committed, err := materialized.Commit(opts)
	if err != nil {
		return snapshot.Snapshot{}, errors.Wrapf(err, "execcontext: commit %s", opID)
	}

	c.mu.Lock()
	delete(c.activeSnapshots, opID)
	c.snapshots[opID] = committed
	c.headSnapshot = &committed
	c.mu.Unlock()

	return committed, nil
}

// CleanupSnapshot removes the active snapshot for opID and releases its
// resources. Errors are reported but non-fatal (§4.5).
func (c *Context) CleanupSnapshot(ctx context.Context, opID OpID) error {
	c.mu.Lock()
	s, ok := c.activeSnapshots[opID]
	delete(c.activeSnapshots, opID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.Snapshotter.Remove(ctx, s); err != nil {
		return errors.Wrapf(err, "execcontext: cleanup %s", opID)
	}
	return nil
}

// Body is the operation-specific work WithSnapshot runs once a snapshot is
// prepared: it performs the operation's side effects over s and returns a
// caller-defined result alongside the CommitOptions a Differ derived for
// the prepare-to-commit delta (digest, size, DiffKey, ...).
type Body func(ctx context.Context, s snapshot.Snapshot) (interface{}, snapshot.CommitOptions, error)

// WithSnapshot acquires the context's FS permit, prepares a snapshot
// (rooted at base if provided, otherwise at the current head), runs body,
// commits on success, and cleans up on failure, per §4.5. The permit is
// held for the full prepare -> body -> commit/cleanup sequence, which is
// the sole mechanism preventing sibling operations in this context from
// branching snapshot history (§5).
func (c *Context) WithSnapshot(ctx context.Context, opID OpID, base *snapshot.Snapshot, body Body) (interface{}, snapshot.Snapshot, error) {
	if err := c.fsPermit.Acquire(ctx, 1); err != nil {
		return nil, snapshot.Snapshot{}, errors.Wrap(err, "execcontext: acquire fs permit")
	}
	defer c.fsPermit.Release(1)

	prepared, err := c.prepareFrom(ctx, opID, base)
	if err != nil {
		return nil, snapshot.Snapshot{}, err
	}

	result, opts, err := body(ctx, prepared)
	if err != nil {
		if cleanupErr := c.CleanupSnapshot(ctx, opID); cleanupErr != nil {
			logrus.WithError(cleanupErr).WithField("op", opID).Warn("execcontext: snapshot cleanup failed")
		}
		return nil, snapshot.Snapshot{}, err
	}

	committed, err := c.CommitSnapshot(ctx, prepared, opID, opts)
	if err != nil {
		return nil, snapshot.Snapshot{}, err
	}
	return result, committed, nil
}

// PrepareAndCommit is the convenience path for operations that do not
// modify state beyond introducing a new base (e.g. an image load), per
// §4.5. It still goes through the FS permit so it serializes with any
// concurrent WithSnapshot call.
func (c *Context) PrepareAndCommit(ctx context.Context, opID OpID, base *snapshot.Snapshot, opts snapshot.CommitOptions) (snapshot.Snapshot, error) {
	if err := c.fsPermit.Acquire(ctx, 1); err != nil {
		return snapshot.Snapshot{}, errors.Wrap(err, "execcontext: acquire fs permit")
	}
	defer c.fsPermit.Release(1)

	prepared, err := c.prepareFrom(ctx, opID, base)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return c.CommitSnapshot(ctx, prepared, opID, opts)
}

func (c *Context) prepareFrom(ctx context.Context, opID OpID, base *snapshot.Snapshot) (snapshot.Snapshot, error) {
	if base != nil {
		c.mu.Lock()
		c.activeSnapshots[opID] = *base
		c.mu.Unlock()
		prepared, err := c.Snapshotter.Prepare(ctx, *base)
		if err != nil {
			return snapshot.Snapshot{}, errors.Wrapf(err, "execcontext: prepare from base %s", opID)
		}
		c.mu.Lock()
		c.activeSnapshots[opID] = prepared
		c.mu.Unlock()
		return prepared, nil
	}
	return c.PrepareSnapshot(ctx, opID)
}

// ZeroDigest is the 32-zero-byte sentinel digest, for callers that need a
// hashable "no parent" value. PrepareSnapshot does not use it: a snapshot
// prepared in a context with no head snapshot has a nil Parent.
var ZeroDigest = digest.NewDigestFromEncoded(digest.SHA256, fmt.Sprintf("%064x", 0))
