// Package snapshot models the per-step filesystem state machine (§3, §4.4):
// a Snapshot moves from a mutable "prepared" state, optionally through a
// locked "inProgress" state, into an immutable terminal "committed" state,
// or is abandoned into "removed" on failure.
package snapshot

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/moby/buildcore/diffkey"
	"github.com/moby/buildcore/errdefs"
)

// ID uniquely identifies a snapshot within a process.
type ID string

// State is the snapshot lifecycle state.
type State int

const (
	StatePrepared State = iota
	StateInProgress
	StateCommitted
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StatePrepared:
		return "prepared"
	case StateInProgress:
		return "inProgress"
	case StateCommitted:
		return "committed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Snapshot is a named point-in-time filesystem state. Parent, if set,
// identifies another snapshot that must be in StateCommitted. The struct
// carries only the parent's ID, never a pointer to the parent value, so
// that the snapshot graph is an arena of IDs rather than an object graph
// with potential ownership cycles.
type Snapshot struct {
	ID        ID
	Digest    digest.Digest
	Size      int64
	Parent    *ID
	CreatedAt time.Time
	State     State

	// Valid in StatePrepared (and StateInProgress, inherited from prepare).
	Mountpoint string

	// Valid in StateInProgress.
	OperationID string

	// Valid in StateCommitted; all optional per §3.
	LayerDigest    *digest.Digest
	LayerSize      *int64
	LayerMediaType string
	DiffKey        *diffkey.Key
}

// NewPrepared constructs a fresh snapshot in StatePrepared, rooted at an
// optional parent.
func NewPrepared(id ID, parent *ID, mountpoint string) Snapshot {
	return Snapshot{
		ID:         id,
		Parent:     parent,
		CreatedAt:  time.Now(),
		State:      StatePrepared,
		Mountpoint: mountpoint,
	}
}

// Lock transitions prepared -> inProgress (§3, the optional intermediate
// state). It is illegal from any other state.
func (s Snapshot) Lock(operationID string) (Snapshot, error) {
	if s.State != StatePrepared {
		return Snapshot{}, errdefs.InvalidState(s.State.String(), StateInProgress.String())
	}
	s.State = StateInProgress
	s.OperationID = operationID
	return s, nil
}

// CommitOptions carries the terminal-state fields a commit may assign.
type CommitOptions struct {
	Digest         digest.Digest
	Size           int64
	LayerDigest    *digest.Digest
	LayerSize      *int64
	LayerMediaType string
	DiffKey        *diffkey.Key
}

// Commit transitions prepared -> committed, or inProgress -> committed
// (§4.4 legal transitions). It is illegal from committed or removed: once
// committed, a snapshot never returns to a mutable state (§8 property 10).
func (s Snapshot) Commit(opts CommitOptions) (Snapshot, error) {
	if s.State != StatePrepared && s.State != StateInProgress {
		return Snapshot{}, errdefs.InvalidState(s.State.String(), StateCommitted.String())
	}
	s.State = StateCommitted
	s.Digest = opts.Digest
	s.Size = opts.Size
	s.LayerDigest = opts.LayerDigest
	s.LayerSize = opts.LayerSize
	s.LayerMediaType = opts.LayerMediaType
	s.DiffKey = opts.DiffKey
	s.Mountpoint = ""
	s.OperationID = ""
	return s, nil
}

// MarkRemoved transitions prepared/inProgress -> removed, used by the
// cleanup path on failure (§4.4). Removing an already-committed snapshot
// is a Snapshotter-level resource release, not a state transition -- see
// Snapshotter.Remove -- so this method rejects StateCommitted.
func (s Snapshot) MarkRemoved() (Snapshot, error) {
	if s.State == StateCommitted || s.State == StateRemoved {
		return Snapshot{}, errdefs.InvalidState(s.State.String(), StateRemoved.String())
	}
	s.State = StateRemoved
	s.Mountpoint = ""
	return s, nil
}

// Snapshotter is the consumed collaborator (§6) that prepares, commits, and
// removes the real (or simulated) filesystem backing a Snapshot.
type Snapshotter interface {
	// Prepare ensures the working mountpoint exists, materializing the
	// parent first if it isn't already. Idempotent on an already-prepared
	// snapshot.
	Prepare(ctx context.Context, s Snapshot) (Snapshot, error)

	// Commit produces the immutable terminal snapshot. The returned
	// snapshot keeps the same ID.
	Commit(ctx context.Context, s Snapshot) (Snapshot, error)

	// Remove releases the mountpoint and any in-progress state. Safe to
	// call on a prepared or committed snapshot; remove errors are logged
	// and swallowed by callers per §7.
	Remove(ctx context.Context, s Snapshot) error
}
