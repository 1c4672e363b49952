package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gristlabs/docstore/pkg/docid"
)

// errStillMaterializing is returned by pushToRemote when a local
// materialization is still in progress for the target document; the
// scheduler's retry policy requeues it automatically.
var errStillMaterializing = fmt.Errorf("docstore: local materialization still in progress")

// MarkAsChanged idempotently enqueues an upload of docID after the
// configured debounce window. A no-op for a snapshot-addressing docId
// (spec.md invariant 4); an error after closeStorage.
func (m *StorageManager) MarkAsChanged(docID string) error {
	id, err := docid.Parse(docID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocId, err)
	}
	if id.IsSnapshot() {
		return nil
	}
	if err := m.requireOpen(); err != nil {
		return err
	}
	return m.sched.AddOperation(id.WithoutSnapshot())
}

// MarkAsEdited schedules a user-visible "last edited" metadata update. A
// no-op for a snapshot-addressing docId, and when no metadata sink was
// configured.
func (m *StorageManager) MarkAsEdited(docID, editedBy string) error {
	id, err := docid.Parse(docID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocId, err)
	}
	if id.IsSnapshot() || m.mq == nil {
		return nil
	}
	if err := m.requireOpen(); err != nil {
		return err
	}
	if m.debug.WriteEditMetadataSidecar {
		m.writeEditMetadataSidecar(id.WithoutSnapshot(), editedBy)
	}
	return m.mq.ScheduleUpdate(id.WithoutSnapshot(), editedBy)
}

// editMetadataSidecar is the {editedBy, editedAt} payload written to the
// "-meta.json" debug sidecar. Purely a local diagnostic aid; the manager
// never reads it back.
type editMetadataSidecar struct {
	EditedBy string `json:"editedBy"`
	EditedAt string `json:"editedAt"`
}

func (m *StorageManager) writeEditMetadataSidecar(docID, editedBy string) {
	payload, err := json.Marshal(editMetadataSidecar{
		EditedBy: editedBy,
		EditedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		m.log.Warn("failed to marshal edit metadata sidecar", "doc_id", docID, "error", err)
		return
	}
	if err := os.WriteFile(editMetaPath(m.root, docID), payload, 0o644); err != nil {
		m.log.Warn("failed to write edit metadata sidecar", "doc_id", docID, "error", err)
	}
}

// pushToRemote is the scheduler worker function backing every push
// (spec.md §4.1's push algorithm). key is always a without-snapshot remote
// key, since MarkAsChanged strips the snapshot component before scheduling.
func (m *StorageManager) pushToRemote(ctx context.Context, key string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.isMaterializing(key) {
		return errStillMaterializing
	}

	localPath := gristPath(m.root, key)
	if !fileExists(localPath) {
		return fmt.Errorf("%w: %s has no local file to push", ErrDocNotFound, key)
	}

	backup := backupPath(m.root, key)
	defer removeIfExists(backup)

	if err := m.snap.Snapshot(ctx, localPath, backup); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	if _, err := m.store.Upload(ctx, key, backup); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	m.pr.RequestPrune(key)
	m.emit(Event{Kind: EventPushed, DocID: key})
	return nil
}

// isMaterializing reports whether any prepare currently in flight targets
// the same underlying document as remoteKey, regardless of which
// snapshot-addressed docId it was called with.
func (m *StorageManager) isMaterializing(remoteKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for docID := range m.preparingSet {
		id, err := docid.Parse(docID)
		if err != nil {
			continue
		}
		if id.WithoutSnapshot() == remoteKey {
			return true
		}
	}
	return false
}

// FlushDoc blocks until no pending upload remains for docID, expediting it
// if one is scheduled or running.
func (m *StorageManager) FlushDoc(ctx context.Context, docID string) error {
	id, err := docid.Parse(docID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocId, err)
	}
	if id.IsSnapshot() {
		return nil
	}
	return m.sched.ExpediteOperationAndWait(ctx, id.WithoutSnapshot())
}
