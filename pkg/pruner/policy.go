package pruner

import (
	"sort"

	"github.com/gristlabs/docstore/pkg/objectstore"
)

// RetentionPolicy decides which historical versions of a key to delete.
// Implementations receive versions sorted newest-first and return the
// subset to remove; the pruner never deletes a version a policy doesn't
// name.
type RetentionPolicy interface {
	// SelectForDeletion returns the versions of versions (newest first)
	// that should be permanently removed.
	SelectForDeletion(versions []objectstore.VersionInfo) []objectstore.VersionInfo
}

// KeepLastN retains the N most recently modified versions and marks
// everything older for deletion. This is the default policy used by tests
// and single-node deployments; a hosted deployment would typically inject
// a time- and count-aware policy instead.
type KeepLastN struct {
	N int
}

// SelectForDeletion implements RetentionPolicy.
func (p KeepLastN) SelectForDeletion(versions []objectstore.VersionInfo) []objectstore.VersionInfo {
	if len(versions) <= p.N {
		return nil
	}

	sorted := make([]objectstore.VersionInfo, len(versions))
	copy(sorted, versions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LastModified.After(sorted[j].LastModified)
	})

	if p.N < 0 {
		return sorted
	}
	return sorted[p.N:]
}
