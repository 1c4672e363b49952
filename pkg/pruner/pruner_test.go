package pruner_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/objectstore"
	"github.com/gristlabs/docstore/pkg/pruner"
)

type fakeVersionStore struct {
	mu       sync.Mutex
	versions map[string][]objectstore.VersionInfo
	deleted  map[string][]string
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{
		versions: make(map[string][]objectstore.VersionInfo),
		deleted:  make(map[string][]string),
	}
}

func (f *fakeVersionStore) Versions(ctx context.Context, key string) ([]objectstore.VersionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[key], nil
}

func (f *fakeVersionStore) DeleteVersion(ctx context.Context, key, versionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[key] = append(f.deleted[key], versionID)
	return nil
}

func TestRequestPrune_DeletesVersionsOutsideRetention(t *testing.T) {
	store := newFakeVersionStore()
	base := time.Now()
	store.versions["doc1"] = []objectstore.VersionInfo{
		{SnapshotID: "v1", LastModified: base},
		{SnapshotID: "v2", LastModified: base.Add(time.Hour)},
		{SnapshotID: "v3", LastModified: base.Add(2 * time.Hour)},
	}

	p := pruner.New(store, pruner.Config{
		Enabled:       true,
		DebounceDelay: time.Millisecond,
		Policy:        pruner.KeepLastN{N: 1},
	})
	defer p.Close()

	p.RequestPrune("doc1")
	require.NoError(t, p.Wait(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.ElementsMatch(t, []string{"v1", "v2"}, store.deleted["doc1"])
}

func TestRequestPrune_DryRunDeletesNothing(t *testing.T) {
	store := newFakeVersionStore()
	base := time.Now()
	store.versions["doc1"] = []objectstore.VersionInfo{
		{SnapshotID: "v1", LastModified: base},
		{SnapshotID: "v2", LastModified: base.Add(time.Hour)},
	}

	p := pruner.New(store, pruner.Config{
		Enabled:       true,
		DryRun:        true,
		DebounceDelay: time.Millisecond,
		Policy:        pruner.KeepLastN{N: 1},
	})
	defer p.Close()

	p.RequestPrune("doc1")
	require.NoError(t, p.Wait(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.deleted["doc1"])
}

func TestRequestPrune_DisabledIsNoop(t *testing.T) {
	store := newFakeVersionStore()
	p := pruner.New(store, pruner.Config{Enabled: false})
	p.RequestPrune("doc1")
	require.NoError(t, p.Wait(context.Background()))
	p.Close()
}

func TestRequestPrune_RepeatedCallsDebounceToOneRun(t *testing.T) {
	store := newFakeVersionStore()
	base := time.Now()
	store.versions["doc1"] = []objectstore.VersionInfo{
		{SnapshotID: "v1", LastModified: base},
		{SnapshotID: "v2", LastModified: base.Add(time.Hour)},
	}

	p := pruner.New(store, pruner.Config{
		Enabled:       true,
		DebounceDelay: 30 * time.Millisecond,
		Policy:        pruner.KeepLastN{N: 1},
	})
	defer p.Close()

	for i := 0; i < 5; i++ {
		p.RequestPrune("doc1")
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, p.Wait(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []string{"v1"}, store.deleted["doc1"])
}
