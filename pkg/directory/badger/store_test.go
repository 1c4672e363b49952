package badger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/directory"
	"github.com/gristlabs/docstore/pkg/directory/badger"
)

func newTestStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.New(context.Background(), badger.Config{DBPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGetDocWorkerOrAssign_ClaimsUnownedDoc(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	status, err := store.GetDocWorkerOrAssign(ctx, "doc1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", status.OwnerWorkerID)
	assert.True(t, status.IsActive)
	assert.Nil(t, status.DocMD5)
}

func TestGetDocWorkerOrAssign_ReturnsExistingActiveOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetDocWorkerOrAssign(ctx, "doc1", "worker-a")
	require.NoError(t, err)

	status, err := store.GetDocWorkerOrAssign(ctx, "doc1", "worker-b")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", status.OwnerWorkerID)
}

func TestUpdateDocStatus_PersistsAcrossReopen(t *testing.T) {
	dbPath := t.TempDir()
	ctx := context.Background()

	store, err := badger.New(ctx, badger.Config{DBPath: dbPath})
	require.NoError(t, err)

	_, err = store.GetDocWorkerOrAssign(ctx, "doc1", "worker-a")
	require.NoError(t, err)
	require.NoError(t, store.UpdateDocStatus(ctx, "doc1", "abc123"))
	require.NoError(t, store.Close())

	reopened, err := badger.New(ctx, badger.Config{DBPath: dbPath})
	require.NoError(t, err)
	defer reopened.Close()

	status, ok, err := reopened.GetDocWorker(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, status.DocMD5)
	assert.Equal(t, "abc123", *status.DocMD5)
	assert.Equal(t, "worker-a", status.OwnerWorkerID)
}

func TestUpdateDocStatus_DeletedSentinel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetDocWorkerOrAssign(ctx, "doc1", "worker-a")
	require.NoError(t, err)
	require.NoError(t, store.UpdateDocStatus(ctx, "doc1", directory.DeletedToken))

	status, ok, err := store.GetDocWorker(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, status.DocMD5)
	assert.Equal(t, directory.DeletedToken, *status.DocMD5)
}

func TestGetDocWorker_UnknownDocReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.GetDocWorker(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
