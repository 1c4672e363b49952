package objectstore

import "context"

// DeletedDigest is the sentinel sharedHash value written by Remove. It
// mirrors docid.Deleted; objectstore does not import pkg/docid to keep the
// dependency direction from docstore -> objectstore one-way.
const DeletedDigest = "DELETED"

// SharedHashStore is the authoritative, cross-worker source of truth for a
// key's MD5 digest. The storage manager backs this with the worker
// directory client (docWorker.docMD5); Checksummed never needs to know that.
type SharedHashStore interface {
	// GetSharedHash returns the authoritative digest for key, or ok=false if
	// none is recorded yet.
	GetSharedHash(ctx context.Context, key string) (digest string, ok bool, err error)

	// SetSharedHash records the authoritative digest for key.
	SetSharedHash(ctx context.Context, key, digest string) error
}

// LocalHashStore is the per-worker, local-disk record of the last digest
// this process confirmed for a key (the "-hash" sidecar file in spec.md
// terms). It never does network I/O.
type LocalHashStore interface {
	// GetLocalHash returns the last confirmed digest for key, or ok=false if
	// none is recorded.
	GetLocalHash(key string) (digest string, ok bool, err error)

	// SetLocalHash records the last confirmed digest for key.
	SetLocalHash(key, digest string) error
}
