package snapshot_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/engine"
	"github.com/gristlabs/docstore/pkg/snapshot"
)

func TestSnapshot_CopiesConsistentContent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.grist")
	dstPath := filepath.Join(dir, "dst.grist")

	src, err := engine.Open(ctx, srcPath)
	require.NoError(t, err)
	require.NoError(t, src.SetMeta(ctx, "title", "Snapshot Me"))
	require.NoError(t, src.RecordEdit(ctx, "user-1"))
	require.NoError(t, src.Checkpoint(ctx))
	require.NoError(t, src.Close())

	require.NoError(t, snapshot.New(snapshot.Config{}).Snapshot(ctx, srcPath, dstPath))

	dst, err := engine.Open(ctx, dstPath)
	require.NoError(t, err)
	defer dst.Close()

	value, ok, err := dst.GetMeta(ctx, "title")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Snapshot Me", value)

	count, err := dst.EditCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSnapshot_SmallPageStepStillCompletes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.grist")
	dstPath := filepath.Join(dir, "dst.grist")

	src, err := engine.Open(ctx, srcPath)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, src.RecordEdit(ctx, "user-1"))
	}
	require.NoError(t, src.Checkpoint(ctx))
	require.NoError(t, src.Close())

	snapper := snapshot.New(snapshot.Config{PagesPerStep: 1})
	require.NoError(t, snapper.Snapshot(ctx, srcPath, dstPath))

	dst, err := engine.Open(ctx, dstPath)
	require.NoError(t, err)
	defer dst.Close()

	count, err := dst.EditCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, count)
}

func TestSnapshot_ContextCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	err := snapshot.New(snapshot.Config{}).Snapshot(ctx, filepath.Join(dir, "a.grist"), filepath.Join(dir, "b.grist"))
	assert.ErrorIs(t, err, context.Canceled)
}
