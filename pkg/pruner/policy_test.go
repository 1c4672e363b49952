package pruner_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gristlabs/docstore/pkg/objectstore"
	"github.com/gristlabs/docstore/pkg/pruner"
)

func versionsAt(times ...int) []objectstore.VersionInfo {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]objectstore.VersionInfo, len(times))
	for i, offset := range times {
		out[i] = objectstore.VersionInfo{
			SnapshotID:   fmt.Sprintf("v%d", offset),
			LastModified: base.Add(time.Duration(offset) * time.Hour),
		}
	}
	return out
}

func TestKeepLastN_RetainsNewestAndDropsOlder(t *testing.T) {
	versions := versionsAt(0, 1, 2, 3, 4)
	policy := pruner.KeepLastN{N: 2}

	toDelete := policy.SelectForDeletion(versions)

	require := assert.New(t)
	require.Len(toDelete, 3)
	for _, v := range toDelete {
		require.NotEqual("v4", v.SnapshotID)
		require.NotEqual("v3", v.SnapshotID)
	}
}

func TestKeepLastN_FewerVersionsThanNDeletesNothing(t *testing.T) {
	versions := versionsAt(0, 1)
	policy := pruner.KeepLastN{N: 5}
	assert.Empty(t, policy.SelectForDeletion(versions))
}
