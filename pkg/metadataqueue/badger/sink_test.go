package badger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/metadataqueue"
	"github.com/gristlabs/docstore/pkg/metadataqueue/badger"
)

func TestPush_PersistsAcrossReopen(t *testing.T) {
	dbPath := t.TempDir()
	ctx := context.Background()

	sink, err := badger.New(ctx, badger.Config{DBPath: dbPath})
	require.NoError(t, err)

	update := metadataqueue.Update{DocID: "doc1", EditedBy: "user-a", UpdatedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, sink.Push(ctx, update))
	require.NoError(t, sink.Close())

	reopened, err := badger.New(ctx, badger.Config{DBPath: dbPath})
	require.NoError(t, err)
	defer reopened.Close()

	pending, ok, err := reopened.Pending(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, update.EditedBy, pending.EditedBy)
	assert.True(t, update.UpdatedAt.Equal(pending.UpdatedAt))
}

func TestPush_OverwritesPriorPending(t *testing.T) {
	ctx := context.Background()
	sink, err := badger.New(ctx, badger.Config{DBPath: t.TempDir()})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Push(ctx, metadataqueue.Update{DocID: "doc1", EditedBy: "user-a"}))
	require.NoError(t, sink.Push(ctx, metadataqueue.Update{DocID: "doc1", EditedBy: "user-b"}))

	pending, ok, err := sink.Pending(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-b", pending.EditedBy)
}

func TestPending_UnknownDocIsNotFound(t *testing.T) {
	ctx := context.Background()
	sink, err := badger.New(ctx, badger.Config{DBPath: t.TempDir()})
	require.NoError(t, err)
	defer sink.Close()

	_, ok, err := sink.Pending(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
