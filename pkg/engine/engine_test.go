package engine_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/engine"
)

func TestOpen_CreatesSchemaAndPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.grist")

	doc, err := engine.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, doc.SetMeta(ctx, "title", "My Document"))
	require.NoError(t, doc.RecordEdit(ctx, "user-1"))
	require.NoError(t, doc.RecordEdit(ctx, "user-2"))
	require.NoError(t, doc.Checkpoint(ctx))
	require.NoError(t, doc.Close())

	reopened, err := engine.Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.GetMeta(ctx, "title")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "My Document", value)

	count, err := reopened.EditCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGetMeta_UnknownKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	doc, err := engine.Open(ctx, filepath.Join(t.TempDir(), "doc.grist"))
	require.NoError(t, err)
	defer doc.Close()

	_, ok, err := doc.GetMeta(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
