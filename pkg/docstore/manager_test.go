package docstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gristlabs/docstore/pkg/directory"
	directorymem "github.com/gristlabs/docstore/pkg/directory/memory"
	"github.com/gristlabs/docstore/pkg/engine"
	metadataqueuemem "github.com/gristlabs/docstore/pkg/metadataqueue/memory"
	objectstoremem "github.com/gristlabs/docstore/pkg/objectstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, workerID string, disableS3 bool) *StorageManager {
	t.Helper()
	root := t.TempDir()
	mgr, err := NewStorageManager(Config{
		Root:            root,
		WorkerID:        workerID,
		DisableS3:       disableS3,
		PushDelay:       20 * time.Millisecond,
		FirstRetryDelay: 10 * time.Millisecond,
		Directory:       directorymem.New(),
		RawStore:        objectstoremem.New(),
		MetadataSink:    metadataqueuemem.New(),
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mgr.CloseStorage(context.Background())
	})
	return mgr
}

func TestPrepareLocalDoc_CreatesNewDocument(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, "worker-1", false)

	isNew, err := mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)
	assert.True(t, isNew)

	path, err := mgr.GetPath("abc123")
	require.NoError(t, err)
	assert.False(t, fileExists(path), "prepareLocalDoc only makes a document creatable, the caller writes the SQLite file")
}

func TestPrepareLocalDoc_ReentrancyIsRejected(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, "worker-1", false)

	_, err := mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)

	_, err = mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	assert.ErrorIs(t, err, ErrConcurrentPrepare)
}

func TestPrepareLocalDoc_NotOwnerFails(t *testing.T) {
	ctx := context.Background()
	dir := directorymem.New()

	mgrA, err := NewStorageManager(Config{
		Root: t.TempDir(), WorkerID: "worker-a", DisableS3: true,
		Directory: dir, RawStore: objectstoremem.New(), Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgrA.CloseStorage(ctx) })

	mgrB, err := NewStorageManager(Config{
		Root: t.TempDir(), WorkerID: "worker-b", DisableS3: true,
		Directory: dir, RawStore: objectstoremem.New(), Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgrB.CloseStorage(ctx) })

	_, err = mgrA.PrepareLocalDoc(ctx, "shared-doc", Session{UserID: 1})
	require.NoError(t, err)

	_, err = mgrB.PrepareLocalDoc(ctx, "shared-doc", Session{UserID: 1})
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestCloseThenReprepare_Succeeds(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, "worker-1", true)

	_, err := mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)

	require.NoError(t, mgr.CloseDocument(ctx, "abc123"))

	_, err = mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	assert.NoError(t, err)
}

func TestPushAndReopen_RoundTripsContent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := directorymem.New()
	store := objectstoremem.New()

	mgr, err := NewStorageManager(Config{
		Root: root, WorkerID: "worker-1",
		PushDelay: 15 * time.Millisecond, FirstRetryDelay: 5 * time.Millisecond,
		Directory: dir, RawStore: store, Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.CloseStorage(ctx) })

	_, err = mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)

	path, err := mgr.GetPath("abc123")
	require.NoError(t, err)

	doc, err := engine.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, doc.SetMeta(ctx, "title", "hello world"))
	require.NoError(t, doc.Checkpoint(ctx))
	require.NoError(t, doc.Close())

	require.NoError(t, mgr.MarkAsChanged("abc123"))
	require.NoError(t, mgr.FlushDoc(ctx, "abc123"))

	require.NoError(t, mgr.CloseDocument(ctx, "abc123"))
	require.NoError(t, os.Remove(path))

	root2 := t.TempDir()
	mgr2, err := NewStorageManager(Config{
		Root: root2, WorkerID: "worker-1",
		PushDelay: 15 * time.Millisecond, FirstRetryDelay: 5 * time.Millisecond,
		Directory: dir, RawStore: store, Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr2.CloseStorage(ctx) })

	isNew, err := mgr2.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)
	assert.False(t, isNew)

	path2, err := mgr2.GetPath("abc123")
	require.NoError(t, err)

	doc2, err := engine.Open(ctx, path2)
	require.NoError(t, err)
	defer doc2.Close()

	value, ok, err := doc2.GetMeta(ctx, "title")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello world", value)
}

func TestPrepareLocalDoc_TrustsLocalFileMatchingDirectoryDigest(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := directorymem.New()
	store := objectstoremem.New()

	mgr, err := NewStorageManager(Config{
		Root: root, WorkerID: "worker-1",
		PushDelay: 15 * time.Millisecond, FirstRetryDelay: 5 * time.Millisecond,
		Directory: dir, RawStore: store, Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.CloseStorage(ctx) })

	_, err = mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)
	path, err := mgr.GetPath("abc123")
	require.NoError(t, err)

	doc, err := engine.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, doc.SetMeta(ctx, "k", "v"))
	require.NoError(t, doc.Checkpoint(ctx))
	require.NoError(t, doc.Close())

	require.NoError(t, mgr.MarkAsChanged("abc123"))
	require.NoError(t, mgr.FlushDoc(ctx, "abc123"))
	require.NoError(t, mgr.CloseDocument(ctx, "abc123"))

	// Local file is still present and matches: reopening must not re-download.
	isNew, err := mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestPrepareLocalDoc_DiscardsStaleLocalFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := directorymem.New()
	store := objectstoremem.New()

	mgr, err := NewStorageManager(Config{
		Root: root, WorkerID: "worker-1",
		PushDelay: 15 * time.Millisecond, FirstRetryDelay: 5 * time.Millisecond,
		Directory: dir, RawStore: store, Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.CloseStorage(ctx) })

	_, err = mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)
	path, err := mgr.GetPath("abc123")
	require.NoError(t, err)

	doc, err := engine.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, doc.SetMeta(ctx, "rev", "1"))
	require.NoError(t, doc.Checkpoint(ctx))
	require.NoError(t, doc.Close())
	require.NoError(t, mgr.MarkAsChanged("abc123"))
	require.NoError(t, mgr.FlushDoc(ctx, "abc123"))
	require.NoError(t, mgr.CloseDocument(ctx, "abc123"))

	// Corrupt the on-disk file so its hash no longer matches the directory's
	// recorded digest, simulating an out-of-band write.
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	isNew, err := mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)
	assert.False(t, isNew)

	doc2, err := engine.Open(ctx, path)
	require.NoError(t, err)
	defer doc2.Close()
	value, ok, err := doc2.GetMeta(ctx, "rev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", value)
}

func TestPrepareLocalDoc_ForkCopiesFromTrunk(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := directorymem.New()
	store := objectstoremem.New()

	mgr, err := NewStorageManager(Config{
		Root: root, WorkerID: "worker-1",
		PushDelay: 15 * time.Millisecond, FirstRetryDelay: 5 * time.Millisecond,
		Directory: dir, RawStore: store, Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.CloseStorage(ctx) })

	_, err = mgr.PrepareLocalDoc(ctx, "trunk1", Session{UserID: 1})
	require.NoError(t, err)
	trunkPath, err := mgr.GetPath("trunk1")
	require.NoError(t, err)
	doc, err := engine.Open(ctx, trunkPath)
	require.NoError(t, err)
	require.NoError(t, doc.SetMeta(ctx, "shared", "value"))
	require.NoError(t, doc.Checkpoint(ctx))
	require.NoError(t, doc.Close())
	require.NoError(t, mgr.MarkAsChanged("trunk1"))
	require.NoError(t, mgr.FlushDoc(ctx, "trunk1"))

	forkID := "trunk1~fork1"
	isNew, err := mgr.PrepareLocalDoc(ctx, forkID, Session{UserID: 1})
	require.NoError(t, err)
	assert.True(t, isNew)

	forkPath, err := mgr.GetPath(forkID)
	require.NoError(t, err)
	require.True(t, fileExists(forkPath))

	forkDoc, err := engine.Open(ctx, forkPath)
	require.NoError(t, err)
	defer forkDoc.Close()
	value, ok, err := forkDoc.GetMeta(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", value)
}

func TestMarkAsChanged_SnapshotAddressedDocIdIsNoOp(t *testing.T) {
	mgr := newTestManager(t, "worker-1", true)
	assert.NoError(t, mgr.MarkAsChanged("abc123=snap1"))
}

func TestPrepareLocalDoc_SnapshotWithoutRemoteIsUnsupported(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, "worker-1", true)

	_, err := mgr.PrepareLocalDoc(ctx, "abc123=snap1", Session{UserID: 1})
	assert.ErrorIs(t, err, ErrUnsupportedOp)
}

func TestGetCopy_FailsWhenDocumentAbsent(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, "worker-1", true)
	_, err := mgr.GetCopy(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrDocNotFound)
}

func TestDeleteDoc_SoftDeleteUnsupported(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, "worker-1", true)
	err := mgr.DeleteDoc(ctx, "abc123", false)
	assert.ErrorIs(t, err, ErrUnsupportedOp)
}

func TestDeleteDoc_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := directorymem.New()
	store := objectstoremem.New()
	mgr, err := NewStorageManager(Config{
		Root: root, WorkerID: "worker-1",
		PushDelay: 15 * time.Millisecond, FirstRetryDelay: 5 * time.Millisecond,
		Directory: dir, RawStore: store, Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.CloseStorage(ctx) })

	_, err = mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteDoc(ctx, "abc123", true))
	require.NoError(t, mgr.DeleteDoc(ctx, "abc123", true))

	path, err := mgr.GetPath("abc123")
	require.NoError(t, err)
	assert.False(t, fileExists(path))
}

func TestCloseStorage_IsIdempotentAndRejectsNewWork(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, "worker-1", true)

	require.NoError(t, mgr.CloseStorage(ctx))
	require.NoError(t, mgr.CloseStorage(ctx))

	_, err := mgr.PrepareLocalDoc(ctx, "abc123", Session{UserID: 1})
	assert.ErrorIs(t, err, ErrAfterClose)
}

func TestSweepStaleSidecars_RemovesLeftoverBackupsOnStartup(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	stale := filepath.Join(root, "abc123.grist-backup-deadbeef")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	mgr, err := NewStorageManager(Config{
		Root: root, WorkerID: "worker-1", DisableS3: true,
		Directory: directorymem.New(), RawStore: objectstoremem.New(), Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.CloseStorage(ctx) })

	assert.False(t, fileExists(stale))
}

var _ directory.Directory = (*directorymem.Store)(nil)
