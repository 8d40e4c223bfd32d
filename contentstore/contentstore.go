// Package contentstore defines the ContentStore consumed collaborator
// (§6): an ingest-session-based blob store keyed by content digest, plus
// an in-memory reference implementation for tests and for callers that do
// not need a durable blob backend.
package contentstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/moby/buildcore/errdefs"
)

// SessionID identifies an in-flight ingest session.
type SessionID string

// Store is the consumed collaborator used to persist cache manifests and
// other serialized values under their content digest.
type Store interface {
	// NewIngestSession opens a session for writing one blob and returns an
	// opaque session ID together with the directory (or other locator) a
	// Writer will stage data under.
	NewIngestSession(ctx context.Context) (SessionID, string, error)

	// Writer returns a ContentWriter scoped to the given ingest directory.
	Writer(ingestDir string) ContentWriter

	// CompleteIngestSession finalizes a session, making its content
	// addressable under the digest it was written with.
	CompleteIngestSession(ctx context.Context, id SessionID) error

	// CancelIngestSession discards a session's staged content.
	CancelIngestSession(ctx context.Context, id SessionID) error

	// Get fetches and deserializes the blob for dgst into v. Returns
	// errdefs.NotFound if no such blob exists.
	Get(ctx context.Context, dgst digest.Digest, v interface{}) error

	// Delete removes the blobs for the given digests. Missing digests are
	// not an error.
	Delete(ctx context.Context, digests ...digest.Digest) error
}

// ContentWriter stages a single value's serialized bytes and reports its
// canonical size and digest.
type ContentWriter interface {
	Create(ctx context.Context, v interface{}) (size int64, dgst digest.Digest, err error)
}

// MemStore is an in-memory Store: ingest sessions stage bytes in a map
// keyed by session ID, and CompleteIngestSession moves staged bytes into
// the durable-in-process blob map keyed by digest. It has no on-disk
// footprint, so NewIngestSession's "directory" is just the session ID
// rendered as a string -- callers never need to interpret it, they only
// thread it back into Writer.
type MemStore struct {
	mu     sync.Mutex
	staged map[SessionID][]byte
	staDig map[SessionID]digest.Digest
	blobs  map[digest.Digest][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		staged: make(map[SessionID][]byte),
		staDig: make(map[SessionID]digest.Digest),
		blobs:  make(map[digest.Digest][]byte),
	}
}

func (m *MemStore) NewIngestSession(ctx context.Context) (SessionID, string, error) {
	id := SessionID(uuid.NewString())
	return id, string(id), nil
}

func (m *MemStore) Writer(ingestDir string) ContentWriter {
	return &memWriter{store: m, session: SessionID(ingestDir)}
}

func (m *MemStore) CompleteIngestSession(ctx context.Context, id SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dt, ok := m.staged[id]
	if !ok {
		return errdefs.NotFound("ingest session", string(id), nil)
	}
	dgst := m.staDig[id]
	m.blobs[dgst] = dt
	delete(m.staged, id)
	delete(m.staDig, id)
	return nil
}


func (m *MemStore) CancelIngestSession(ctx context.Context, id SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, id)
	delete(m.staDig, id)
	return nil
}

func (m *MemStore) Get(ctx context.Context, dgst digest.Digest, v interface{}) error {
	m.mu.Lock()
	dt, ok := m.blobs[dgst]
	m.mu.Unlock()
	if !ok {
		return errdefs.NotFound("content blob", dgst.String(), nil)
	}
	if err := json.Unmarshal(dt, v); err != nil {
		return errors.Wrapf(err, "contentstore: decode %s", dgst)
	}
	return nil
}

func (m *MemStore) Delete(ctx context.Context, digests ...digest.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range digests {
		delete(m.blobs, d)
	}
	return nil
}

type memWriter struct {
	store   *MemStore
	session SessionID
}

func (w *memWriter) Create(ctx context.Context, v interface{}) (int64, digest.Digest, error) {
	dt, err := json.Marshal(v)
	if err != nil {
		return 0, "", errors.Wrap(err, "contentstore: encode")
	}
	dgst := digest.FromBytes(dt)

	w.store.mu.Lock()
	w.store.staged[w.session] = dt
	w.store.staDig[w.session] = dgst
	w.store.mu.Unlock()

	return int64(len(dt)), dgst, nil
}
