// Package directory provides the worker directory client described in
// spec.md §4.7: a remote map of docId -> {ownerWorkerId, isActive, docMD5}
// that lets a cluster of interchangeable document-worker processes agree
// on which single worker currently owns a live document.
package directory

import "context"

// DeletedToken is the docMD5 sentinel recorded for a tombstoned document.
// It mirrors docid.Deleted; directory does not import pkg/docid to avoid a
// dependency from the lowest-level remote-coordination package up into
// docId parsing, which it never needs.
const DeletedToken = "DELETED"

// Status is one worker directory entry. DocMD5 is nil for a document that
// has never been uploaded, and a pointer to DeletedToken for a tombstoned
// one.
type Status struct {
	OwnerWorkerID string
	IsActive      bool
	DocMD5        *string
}

// Directory is the contract the storage manager depends on. Implementations
// must make GetDocWorkerOrAssign and UpdateDocStatus atomic per docId: two
// workers racing to claim the same unowned docId must not both win.
type Directory interface {
	// GetDocWorkerOrAssign returns the current owner of docId, assigning
	// selfWorkerID as the owner if no entry exists yet or the existing
	// entry is inactive.
	GetDocWorkerOrAssign(ctx context.Context, docID, selfWorkerID string) (Status, error)

	// GetDocWorker returns the current entry for docId, or ok=false if none
	// exists.
	GetDocWorker(ctx context.Context, docID string) (status Status, ok bool, err error)

	// UpdateDocStatus records digest as docId's authoritative content
	// digest. Pass DeletedToken to tombstone the document.
	UpdateDocStatus(ctx context.Context, docID, digest string) error

	// Close releases any resources held by the implementation (database
	// handles, connections). Safe to call multiple times.
	Close() error
}
