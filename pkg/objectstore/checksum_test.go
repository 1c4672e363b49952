package objectstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/objectstore"
	"github.com/gristlabs/docstore/pkg/objectstore/memory"
)

type fakeSharedHash struct {
	mu   sync.Mutex
	hash map[string]string
}

func newFakeSharedHash() *fakeSharedHash {
	return &fakeSharedHash{hash: make(map[string]string)}
}

func (f *fakeSharedHash) GetSharedHash(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hash[key]
	return h, ok, nil
}

func (f *fakeSharedHash) SetSharedHash(ctx context.Context, key, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hash[key] = digest
	return nil
}

type fakeLocalHash struct {
	mu   sync.Mutex
	hash map[string]string
}

func newFakeLocalHash() *fakeLocalHash {
	return &fakeLocalHash{hash: make(map[string]string)}
}

func (f *fakeLocalHash) GetLocalHash(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hash[key]
	return h, ok, nil
}

func (f *fakeLocalHash) SetLocalHash(key, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hash[key] = digest
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestChecksummed_UploadRecordsSharedAndLocalHash(t *testing.T) {
	raw := memory.New()
	shared := newFakeSharedHash()
	local := newFakeLocalHash()
	cs := objectstore.NewChecksummed(raw, shared, local)

	dir := t.TempDir()
	src := writeFile(t, dir, "doc.grist", "snapshot bytes")

	versionID, err := cs.Upload(context.Background(), "doc1", src)
	require.NoError(t, err)
	assert.NotEmpty(t, versionID)

	sharedDigest, ok, err := shared.GetSharedHash(context.Background(), "doc1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, sharedDigest)

	localDigest, ok, err := local.GetLocalHash("doc1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sharedDigest, localDigest)

	gotVersion, ok := cs.LatestVersion("doc1")
	assert.True(t, ok)
	assert.Equal(t, versionID, gotVersion)
}

func TestChecksummed_DownloadVerifiesAgainstSharedHash(t *testing.T) {
	raw := memory.New()
	shared := newFakeSharedHash()
	local := newFakeLocalHash()
	cs := objectstore.NewChecksummed(raw, shared, local)

	dir := t.TempDir()
	src := writeFile(t, dir, "doc.grist", "snapshot bytes")

	_, err := cs.Upload(context.Background(), "doc1", src)
	require.NoError(t, err)

	dest := filepath.Join(dir, "downloaded")
	err = cs.Download(context.Background(), "doc1", dest, "")
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "snapshot bytes", string(data))
}

func TestChecksummed_DownloadSkipsVerificationForExplicitSnapshot(t *testing.T) {
	raw := memory.New()
	shared := newFakeSharedHash()
	local := newFakeLocalHash()
	cs := objectstore.NewChecksummed(raw, shared, local)

	dir := t.TempDir()
	v1 := writeFile(t, dir, "v1.grist", "first")
	v2 := writeFile(t, dir, "v2.grist", "second")

	_, err := cs.Upload(context.Background(), "doc1", v1)
	require.NoError(t, err)
	_, err = cs.Upload(context.Background(), "doc1", v2)
	require.NoError(t, err)

	versions, err := cs.Versions(context.Background(), "doc1")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	oldest := versions[len(versions)-1]
	dest := filepath.Join(dir, "downloaded")
	err = cs.Download(context.Background(), "doc1", dest, oldest.SnapshotID)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestChecksummed_RemoveSetsDeletedSentinel(t *testing.T) {
	raw := memory.New()
	shared := newFakeSharedHash()
	local := newFakeLocalHash()
	cs := objectstore.NewChecksummed(raw, shared, local)

	dir := t.TempDir()
	src := writeFile(t, dir, "doc.grist", "content")
	_, err := cs.Upload(context.Background(), "doc1", src)
	require.NoError(t, err)

	require.NoError(t, cs.Remove(context.Background(), "doc1"))

	exists, err := cs.Exists(context.Background(), "doc1")
	require.NoError(t, err)
	assert.False(t, exists)

	digest, ok, err := shared.GetSharedHash(context.Background(), "doc1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, objectstore.DeletedDigest, digest)
}

func TestChecksummed_UploadExhaustsRetriesOnPersistentMismatch(t *testing.T) {
	raw := &mismatchingStore{Store: memory.New()}
	shared := newFakeSharedHash()
	local := newFakeLocalHash()
	cs := objectstore.NewChecksummed(raw, shared, local, objectstore.WithRetryPolicy(1, 0, 0))

	dir := t.TempDir()
	src := writeFile(t, dir, "doc.grist", "content")

	_, err := cs.Upload(context.Background(), "doc1", src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, objectstore.ErrChecksumMismatch))
}

// mismatchingStore always reports a digest that disagrees with whatever was
// actually uploaded, to exercise the retry-then-fail path.
type mismatchingStore struct {
	*memory.Store
}

func (m *mismatchingStore) Put(ctx context.Context, key, localPath string) (string, string, error) {
	versionID, _, err := m.Store.Put(ctx, key, localPath)
	return versionID, "not-the-real-digest", err
}
