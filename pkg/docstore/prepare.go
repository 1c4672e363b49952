package docstore

import (
	"context"
	"fmt"

	"github.com/gristlabs/docstore/pkg/directory"
	"github.com/gristlabs/docstore/pkg/docid"
)

// PrepareLocalDoc ensures docID is available locally, per the ensure-present
// algorithm in spec.md §4.1. It returns isNew=true iff the document had to
// be created (no remote content existed and the caller was allowed to
// create it).
func (m *StorageManager) PrepareLocalDoc(ctx context.Context, docID string, session Session) (isNew bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := m.requireOpen(); err != nil {
		return false, err
	}

	id, err := docid.Parse(docID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidDocId, err)
	}

	if err := m.enterPrepare(ctx, docID); err != nil {
		return false, err
	}
	defer m.unmarkPreparing(docID)

	canCreateFork := id.ForkUserID == nil || *id.ForkUserID == session.UserID
	remoteKey := id.WithoutSnapshot()

	status, err := m.dir.GetDocWorkerOrAssign(ctx, remoteKey, m.workerID)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", remoteKey, err)
	}
	if !status.IsActive || status.OwnerWorkerID != m.workerID {
		return false, fmt.Errorf("%w: %s owned by %s", ErrNotOwner, remoteKey, status.OwnerWorkerID)
	}

	localPath := gristPath(m.root, docID)

	if m.disableS3 {
		isNew, err = m.ensurePresentLocalOnly(ctx, id, localPath, canCreateFork)
	} else {
		isNew, err = m.ensurePresentRemote(ctx, id, remoteKey, localPath, status, canCreateFork)
	}
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.present[docID] = struct{}{}
	m.mu.Unlock()

	m.emit(Event{Kind: EventPrepared, DocID: docID})
	return isNew, nil
}

// ensurePresentLocalOnly implements step 5's DisableS3 branch: no remote
// fetch is possible, so a missing fork is filled in only from a trunk that
// already exists on this worker's local disk.
func (m *StorageManager) ensurePresentLocalOnly(ctx context.Context, id docid.ID, localPath string, canCreateFork bool) (bool, error) {
	if id.IsSnapshot() {
		return false, fmt.Errorf("%w: snapshot without remote", ErrUnsupportedOp)
	}
	if fileExists(localPath) {
		return false, nil
	}
	if id.IsFork() && canCreateFork {
		trunkPath := gristPath(m.root, id.TrunkID)
		if fileExists(trunkPath) {
			if err := copyFile(ctx, trunkPath, localPath); err != nil {
				return false, fmt.Errorf("copy trunk %s into fork %s: %w", id.TrunkID, id.Raw, err)
			}
			return true, nil
		}
	}
	return true, nil
}

// ensurePresentRemote implements steps 5-7 for a remote-enabled manager:
// trust a present local file when it matches the directory's digest,
// otherwise discard it and fetch from remote (or derive from a trunk).
func (m *StorageManager) ensurePresentRemote(ctx context.Context, id docid.ID, remoteKey, localPath string, status directory.Status, canCreateFork bool) (bool, error) {
	if fileExists(localPath) {
		accept, err := m.localFileIsCanonical(ctx, localPath, remoteKey, status)
		if err != nil {
			return false, err
		}
		if accept {
			return false, nil
		}
		if err := removeIfExists(localPath); err != nil {
			return false, fmt.Errorf("discard stale local copy of %s: %w", id.Raw, err)
		}
		if err := removeIfExists(hashPath(m.root, id.Raw)); err != nil {
			return false, fmt.Errorf("discard stale hash sidecar of %s: %w", id.Raw, err)
		}
	}

	return m.fetchOrDeriveRemote(ctx, id, remoteKey, localPath, canCreateFork)
}

// localFileIsCanonical implements step 6: trust a never-pushed local file
// outright, and verify a previously-pushed one by re-hashing a fresh backup
// of it against the directory's recorded digest. A local file that cannot
// be backed up at all (e.g. not a valid SQLite database) is reported as not
// canonical, so the caller discards it and fetches the remote copy.
func (m *StorageManager) localFileIsCanonical(ctx context.Context, localPath, remoteKey string, status directory.Status) (bool, error) {
	if status.DocMD5 == nil || *status.DocMD5 == docid.Deleted {
		return true, nil
	}

	backup := backupPath(m.root, remoteKey)
	defer removeIfExists(backup)
	if err := m.snap.Snapshot(ctx, localPath, backup); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		m.log.Warn("local copy unreadable, treating it as stale", "doc_id", remoteKey, "error", err)
		return false, nil
	}
	digest, err := hashFile(backup)
	if err != nil {
		return false, fmt.Errorf("hash local backup of %s: %w", remoteKey, err)
	}
	return digest == *status.DocMD5, nil
}

// fetchOrDeriveRemote implements step 7: download the object if it exists
// remotely (honoring a requested snapshotId), or derive a fresh fork from
// its trunk, or report a brand new document.
func (m *StorageManager) fetchOrDeriveRemote(ctx context.Context, id docid.ID, remoteKey, localPath string, canCreateFork bool) (bool, error) {
	exists, err := m.store.Exists(ctx, remoteKey)
	if err != nil {
		return false, fmt.Errorf("check existence of %s: %w", remoteKey, err)
	}
	if exists {
		if err := m.store.Download(ctx, remoteKey, localPath, id.SnapshotID); err != nil {
			return false, fmt.Errorf("download %s: %w", id.Raw, err)
		}
		return false, nil
	}

	if !id.IsFork() {
		return true, nil
	}

	if !canCreateFork {
		return false, ErrForkForbidden
	}
	if id.TrunkID == docid.NewDocumentCode {
		return true, nil
	}

	trunkKey := docid.Build(id.TrunkID, "", nil, "")
	trunkExists, err := m.store.Exists(ctx, trunkKey)
	if err != nil {
		return false, fmt.Errorf("check existence of trunk %s: %w", id.TrunkID, err)
	}
	if !trunkExists {
		return false, fmt.Errorf("%w: trunk %s of fork %s", ErrDocNotFound, id.TrunkID, id.Raw)
	}
	if err := m.store.Download(ctx, trunkKey, localPath, ""); err != nil {
		return false, fmt.Errorf("download trunk %s into fork %s: %w", id.TrunkID, id.Raw, err)
	}
	return true, nil
}

// enterPrepare enforces single-flight reentrancy for docID: it awaits any
// closeDocument already in flight for this exact docId, then rejects a
// second concurrent prepare with ErrConcurrentPrepare.
func (m *StorageManager) enterPrepare(ctx context.Context, docID string) error {
	for {
		m.mu.Lock()
		st, ok := m.states[docID]
		if !ok {
			st = &docState{}
			m.states[docID] = st
		}
		closing := st.closing
		m.mu.Unlock()

		if closing == nil {
			break
		}
		select {
		case <-closing:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, present := m.present[docID]; present {
		return ErrConcurrentPrepare
	}
	if _, preparing := m.preparingSet[docID]; preparing {
		return ErrConcurrentPrepare
	}
	m.preparingSet[docID] = struct{}{}
	st, ok := m.states[docID]
	if !ok {
		st = &docState{}
		m.states[docID] = st
	}
	st.prepareDone = make(chan struct{})
	return nil
}

func (m *StorageManager) unmarkPreparing(docID string) {
	m.mu.Lock()
	delete(m.preparingSet, docID)
	if st, ok := m.states[docID]; ok && st.prepareDone != nil {
		close(st.prepareDone)
		st.prepareDone = nil
	}
	m.mu.Unlock()
}
