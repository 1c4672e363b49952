package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/metadataqueue"
	"github.com/gristlabs/docstore/pkg/metadataqueue/memory"
)

func TestPush_RecordsInOrder(t *testing.T) {
	sink := memory.New()
	ctx := context.Background()

	require.NoError(t, sink.Push(ctx, metadataqueue.Update{DocID: "doc1", EditedBy: "user-a", UpdatedAt: time.Unix(1, 0)}))
	require.NoError(t, sink.Push(ctx, metadataqueue.Update{DocID: "doc2", EditedBy: "user-b", UpdatedAt: time.Unix(2, 0)}))

	updates := sink.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, "doc1", updates[0].DocID)
	assert.Equal(t, "doc2", updates[1].DocID)
}

func TestLatest_ReturnsMostRecentForDocID(t *testing.T) {
	sink := memory.New()
	ctx := context.Background()

	require.NoError(t, sink.Push(ctx, metadataqueue.Update{DocID: "doc1", EditedBy: "user-a"}))
	require.NoError(t, sink.Push(ctx, metadataqueue.Update{DocID: "doc1", EditedBy: "user-b"}))

	latest, ok := sink.Latest("doc1")
	require.True(t, ok)
	assert.Equal(t, "user-b", latest.EditedBy)
}

func TestLatest_UnknownDocIsNotFound(t *testing.T) {
	sink := memory.New()
	_, ok := sink.Latest("nope")
	assert.False(t, ok)
}
