package docstore

import "errors"

// Sentinel errors matching the taxonomy in spec.md §7, checked with
// errors.Is and wrapped with fmt.Errorf("...: %w", ...) at each call site
// that adds docId/operation context.
var (
	// ErrInvalidDocId is raised eagerly by any path-forming call when a
	// docId fails the [-=_\w~%]+ character class.
	ErrInvalidDocId = errors.New("docstore: invalid docId")

	// ErrNotOwner is raised when the worker directory says the document is
	// inactive or owned by a different worker.
	ErrNotOwner = errors.New("docstore: not the owning worker")

	// ErrDocNotFound is raised when a document is missing remotely and
	// cannot be derived (no trunk, or a requested snapshot is not in the
	// object's version history).
	ErrDocNotFound = errors.New("docstore: document not found")

	// ErrForkForbidden is raised when derived-document creation is
	// requested but the caller is not the fork's owning user.
	ErrForkForbidden = errors.New("docstore: fork creation forbidden for this user")

	// ErrUnsupportedOp is raised for operations this core does not
	// implement: rename, non-permanent delete, snapshot listing without a
	// remote store.
	ErrUnsupportedOp = errors.New("docstore: unsupported operation")

	// ErrConcurrentPrepare is raised when prepareLocalDoc is called again
	// for a docId that already has a prepare in flight.
	ErrConcurrentPrepare = errors.New("docstore: concurrent prepareLocalDoc for same docId")

	// ErrAfterClose is raised by any mutating call made after closeStorage.
	ErrAfterClose = errors.New("docstore: storage manager is closed")

	// ErrBackupFailed is raised when the SQLite snapshot step aborts.
	ErrBackupFailed = errors.New("docstore: snapshot backup failed")
)
