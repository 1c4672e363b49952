// Package testing provides a reusable RawStore conformance suite, run by
// the fs and memory backends' tests so both are held to the same contract
// instead of hand-rolling parallel test files. No test in this module runs
// it against the s3 backend.
package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/objectstore"
)

// StoreSuite exercises the objectstore.RawStore contract against any
// backend.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &testing.StoreSuite{
//	        NewStore: func(t *testing.T) objectstore.RawStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreSuite struct {
	// NewStore is a factory producing a fresh, empty RawStore for each
	// sub-test, ensuring test isolation.
	NewStore func(t *testing.T) objectstore.RawStore
}

// Run executes every test in the suite.
func (s *StoreSuite) Run(t *testing.T) {
	t.Run("PutGetRoundTrip", s.testPutGetRoundTrip)
	t.Run("HeadReflectsExistence", s.testHeadReflectsExistence)
	t.Run("MultipleVersionsAreRetained", s.testMultipleVersionsAreRetained)
	t.Run("GetByVersionIDReturnsThatVersion", s.testGetByVersionID)
	t.Run("DeleteIsIdempotent", s.testDeleteIsIdempotent)
	t.Run("DeleteVersionRemovesOnlyThatVersion", s.testDeleteVersion)
	t.Run("UnknownKeyNotFound", s.testUnknownKeyNotFound)
}

func testContext() context.Context {
	return context.Background()
}

func (s *StoreSuite) testPutGetRoundTrip(t *testing.T) {
	store := s.NewStore(t)
	ctx := testContext()
	dir := t.TempDir()

	src := writeTempFile(t, dir, "src", "hello world")
	versionID, digest, err := store.Put(ctx, "doc1", src)
	require.NoError(t, err)
	assert.NotEmpty(t, versionID)
	assert.NotEmpty(t, digest)

	dest := filepath.Join(dir, "dest")
	gotDigest, err := store.Get(ctx, "doc1", dest, "")
	require.NoError(t, err)
	assert.Equal(t, digest, gotDigest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func (s *StoreSuite) testHeadReflectsExistence(t *testing.T) {
	store := s.NewStore(t)
	ctx := testContext()
	dir := t.TempDir()

	exists, _, err := store.Head(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	src := writeTempFile(t, dir, "src", "content")
	_, digest, err := store.Put(ctx, "doc1", src)
	require.NoError(t, err)

	exists, headDigest, err := store.Head(ctx, "doc1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, digest, headDigest)
}

func (s *StoreSuite) testMultipleVersionsAreRetained(t *testing.T) {
	store := s.NewStore(t)
	ctx := testContext()
	dir := t.TempDir()

	v1 := writeTempFile(t, dir, "v1", "version one")
	v2 := writeTempFile(t, dir, "v2", "version two")

	id1, _, err := store.Put(ctx, "doc1", v1)
	require.NoError(t, err)
	id2, _, err := store.Put(ctx, "doc1", v2)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	versions, err := store.ListVersions(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
}

func (s *StoreSuite) testGetByVersionID(t *testing.T) {
	store := s.NewStore(t)
	ctx := testContext()
	dir := t.TempDir()

	v1 := writeTempFile(t, dir, "v1", "version one")
	v2 := writeTempFile(t, dir, "v2", "version two")

	id1, _, err := store.Put(ctx, "doc1", v1)
	require.NoError(t, err)
	_, _, err = store.Put(ctx, "doc1", v2)
	require.NoError(t, err)

	dest := filepath.Join(dir, "dest")
	_, err = store.Get(ctx, "doc1", dest, id1)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "version one", string(data))
}

func (s *StoreSuite) testDeleteIsIdempotent(t *testing.T) {
	store := s.NewStore(t)
	ctx := testContext()
	dir := t.TempDir()

	src := writeTempFile(t, dir, "src", "content")
	_, _, err := store.Put(ctx, "doc1", src)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "doc1"))
	require.NoError(t, store.Delete(ctx, "doc1"))

	exists, _, err := store.Head(ctx, "doc1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func (s *StoreSuite) testDeleteVersion(t *testing.T) {
	store := s.NewStore(t)
	ctx := testContext()
	dir := t.TempDir()

	v1 := writeTempFile(t, dir, "v1", "version one")
	v2 := writeTempFile(t, dir, "v2", "version two")

	id1, _, err := store.Put(ctx, "doc1", v1)
	require.NoError(t, err)
	_, _, err = store.Put(ctx, "doc1", v2)
	require.NoError(t, err)

	require.NoError(t, store.DeleteVersion(ctx, "doc1", id1))

	versions, err := store.ListVersions(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, versions, 1)

	exists, _, err := store.Head(ctx, "doc1")
	require.NoError(t, err)
	assert.True(t, exists, "deleting an old version must not remove the current one")
}

func (s *StoreSuite) testUnknownKeyNotFound(t *testing.T) {
	store := s.NewStore(t)
	ctx := testContext()
	dir := t.TempDir()

	dest := filepath.Join(dir, "dest")
	_, err := store.Get(ctx, "nope", dest, "")
	assert.Error(t, err)
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
