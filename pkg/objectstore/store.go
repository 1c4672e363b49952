// Package objectstore provides a checksum-verified view over a versioned
// object store (S3 or an S3-like backend), on top of which the storage
// manager pushes and fetches SQLite snapshots.
//
// A RawStore implementation talks to one concrete backend (S3, a local
// directory, or an in-memory map for tests) and knows nothing about digest
// verification. Checksummed wraps any RawStore and enforces the consistency
// policy described below; callers of the storage manager only ever see a
// *Checksummed.
package objectstore

import (
	"context"
	"time"
)

// VersionInfo describes one historical version of a key, as returned by
// Versions/ListVersions.
type VersionInfo struct {
	// SnapshotID identifies this specific version within the backend
	// (an S3 VersionId, a random UUID for the fs backend, or a generation
	// counter for the memory backend).
	SnapshotID string

	// LastModified is when this version was written.
	LastModified time.Time

	// Size is the size in bytes of this version's content.
	Size int64

	// Digest is the backend-reported digest for this version, when known
	// (an S3 ETag for single-part uploads, or a computed MD5 for fs/memory).
	Digest string
}

// RawStore is the minimal backend a Checksummed wraps. Implementations are
// not required to verify digests themselves; Checksummed does that on top.
//
// Every blocking method takes ctx as its first argument and must check
// ctx.Err() before doing any I/O.
type RawStore interface {
	// Put uploads the file at localPath under key, returning the version id
	// the backend assigned and a digest for the uploaded content (an ETag or
	// an explicitly computed MD5 — whatever the backend can produce without
	// a second round trip).
	Put(ctx context.Context, key, localPath string) (versionID, digest string, err error)

	// Get downloads key into destPath. When versionID is empty the current
	// version is fetched; otherwise that specific historical version is
	// fetched. Returns the backend-reported digest of what was downloaded.
	Get(ctx context.Context, key, destPath, versionID string) (digest string, err error)

	// Head reports whether key exists and, if so, its current digest,
	// without downloading the content.
	Head(ctx context.Context, key string) (exists bool, digest string, err error)

	// Delete removes the current version of key. Idempotent: deleting a
	// key that does not exist is not an error.
	Delete(ctx context.Context, key string) error

	// ListVersions returns all known versions of key, most recent first.
	ListVersions(ctx context.Context, key string) ([]VersionInfo, error)

	// DeleteVersion permanently removes one specific historical version of
	// key. Used by the snapshot pruner.
	DeleteVersion(ctx context.Context, key, versionID string) error
}
