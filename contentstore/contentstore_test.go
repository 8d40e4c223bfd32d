package contentstore

import (
	"context"
	"testing"

	digest "github.com/opencontainers/go-digest"
	"gotest.tools/v3/assert"

	"github.com/moby/buildcore/errdefs"
)

type record struct {
	Name string `json:"name"`
}

func TestIngestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	id, dir, err := store.NewIngestSession(ctx)
	assert.NilError(t, err)

	size, dgst, err := store.Writer(dir).Create(ctx, record{Name: "layer-0"})
	assert.NilError(t, err)
	assert.Check(t, size > 0)
	assert.Check(t, dgst.String() != "")

	assert.NilError(t, store.CompleteIngestSession(ctx, id))

	var got record
	assert.NilError(t, store.Get(ctx, dgst, &got))
	assert.Check(t, got.Name == "layer-0")
}

func TestCancelIngestSessionDiscardsContent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	id, dir, err := store.NewIngestSession(ctx)
	assert.NilError(t, err)

	_, dgst, err := store.Writer(dir).Create(ctx, record{Name: "abandoned"})
	assert.NilError(t, err)

	assert.NilError(t, store.CancelIngestSession(ctx, id))

	var got record
	err = store.Get(ctx, dgst, &got)
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestDeleteRemovesBlob(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	id, dir, err := store.NewIngestSession(ctx)
	assert.NilError(t, err)
	_, dgst, err := store.Writer(dir).Create(ctx, record{Name: "to-delete"})
	assert.NilError(t, err)
	assert.NilError(t, store.CompleteIngestSession(ctx, id))

	assert.NilError(t, store.Delete(ctx, dgst))

	var got record
	err = store.Get(ctx, dgst, &got)
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestDeleteMissingDigestIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	assert.NilError(t, store.Delete(ctx, digest.FromString("never-written")))
}
