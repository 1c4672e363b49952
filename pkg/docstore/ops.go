package docstore

import (
	"context"
	"fmt"
	"os"

	"github.com/gristlabs/docstore/pkg/docid"
)

// ReplaceOptions parameterizes Replace. SourceDocID defaults to the target
// docID itself (replacing a live document with one of its own snapshots);
// SnapshotID selects which version of the source to install, defaulting to
// whatever SourceDocID itself encodes.
type ReplaceOptions struct {
	SourceDocID string
	SnapshotID  string
	EditedBy    string
}

// GetCopy returns the path to a freshly taken, independent snapshot of
// docID's current local content. The caller owns the returned file and must
// delete it. Fails with ErrDocNotFound if docID has no local file.
func (m *StorageManager) GetCopy(ctx context.Context, docID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := docid.Parse(docID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocId, err)
	}

	localPath := gristPath(m.root, docID)
	if !fileExists(localPath) {
		return "", fmt.Errorf("%w: %s", ErrDocNotFound, docID)
	}

	dst := backupPath(m.root, docID)
	if err := m.snap.Snapshot(ctx, localPath, dst); err != nil {
		removeIfExists(dst)
		return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	return dst, nil
}

// Replace installs opts.SourceDocID (at opts.SnapshotID, if given) as
// docID's new content, after flushing any pending upload of the current
// content. On failure the previous local file, if any, is restored
// unchanged.
func (m *StorageManager) Replace(ctx context.Context, docID string, opts ReplaceOptions) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := docid.Parse(docID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocId, err)
	}
	if id.IsSnapshot() {
		return fmt.Errorf("%w: replace target %s is snapshot-addressed", ErrUnsupportedOp, docID)
	}
	if err := m.requireOpen(); err != nil {
		return err
	}

	if opts.SourceDocID == "" && opts.SnapshotID == "" {
		return nil
	}

	if err := m.FlushDoc(ctx, docID); err != nil {
		return fmt.Errorf("flush %s before replace: %w", docID, err)
	}

	localPath := gristPath(m.root, docID)
	replacing := replacingPath(m.root, docID)
	hadExisting := fileExists(localPath)
	if hadExisting {
		if err := copyFile(ctx, localPath, replacing); err != nil {
			return fmt.Errorf("stage replace backup for %s: %w", docID, err)
		}
	}
	defer func() {
		if err != nil && hadExisting {
			_ = copyFile(ctx, replacing, localPath)
		}
		removeIfExists(replacing)
	}()

	sourceKey := docID
	if opts.SourceDocID != "" {
		sourceKey = opts.SourceDocID
	}
	srcID, perr := docid.Parse(sourceKey)
	if perr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocId, perr)
	}
	snapshotID := opts.SnapshotID
	if snapshotID == "" {
		snapshotID = srcID.SnapshotID
	}

	tmp := backupPath(m.root, docID)
	defer removeIfExists(tmp)
	if derr := m.store.Download(ctx, srcID.WithoutSnapshot(), tmp, snapshotID); derr != nil {
		err = fmt.Errorf("download replace source %s: %w", sourceKey, derr)
		return err
	}
	if rerr := os.Rename(tmp, localPath); rerr != nil {
		err = fmt.Errorf("install replace content for %s: %w", docID, rerr)
		return err
	}
	if herr := removeIfExists(hashPath(m.root, docID)); herr != nil {
		err = fmt.Errorf("invalidate hash sidecar for %s: %w", docID, herr)
		return err
	}

	if cerr := m.MarkAsChanged(docID); cerr != nil {
		err = cerr
		return err
	}
	if m.mq != nil {
		if eerr := m.MarkAsEdited(docID, opts.EditedBy); eerr != nil {
			err = eerr
			return err
		}
	}

	m.emit(Event{Kind: EventReplaced, DocID: docID})
	return nil
}

// DeleteDoc permanently removes docID: its remote object, its local live
// file, and its local hash sidecar. Only permanent=true is supported (soft
// delete lives entirely in the worker directory's Status, outside this
// package's scope). Idempotent: a second call on an already-deleted docID
// is a no-op.
func (m *StorageManager) DeleteDoc(ctx context.Context, docID string, permanent bool) error {
	if !permanent {
		return fmt.Errorf("%w: soft delete", ErrUnsupportedOp)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := docid.Parse(docID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocId, err)
	}

	if err := m.CloseDocument(ctx, docID); err != nil {
		return fmt.Errorf("close %s before delete: %w", docID, err)
	}

	remoteKey := id.WithoutSnapshot()
	if err := m.store.Remove(ctx, remoteKey); err != nil {
		return fmt.Errorf("remove remote object for %s: %w", docID, err)
	}
	if err := removeIfExists(gristPath(m.root, docID)); err != nil {
		return fmt.Errorf("remove local file for %s: %w", docID, err)
	}
	if err := removeIfExists(hashPath(m.root, docID)); err != nil {
		return fmt.Errorf("remove hash sidecar for %s: %w", docID, err)
	}

	m.emit(Event{Kind: EventDeleted, DocID: docID})
	return nil
}
