package docstore

import (
	"context"
	"time"

	"github.com/gristlabs/docstore/pkg/docid"
)

// CloseDocument awaits any outstanding presence promise for docID, drops
// its presence cache entry, then flushes any pending upload.
func (m *StorageManager) CloseDocument(ctx context.Context, docID string) error {
	m.mu.Lock()
	st, ok := m.states[docID]
	if !ok {
		st = &docState{}
		m.states[docID] = st
	}
	prepareDone := st.prepareDone
	m.mu.Unlock()

	if prepareDone != nil {
		select {
		case <-prepareDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	closing := make(chan struct{})
	m.mu.Lock()
	st.closing = closing
	delete(m.present, docID)
	m.mu.Unlock()

	err := m.FlushDoc(ctx, docID)

	m.mu.Lock()
	st.closing = nil
	close(closing)
	delete(m.states, docID)
	m.mu.Unlock()

	return err
}

// CloseStorage drains pending uploads, closes the metadata queue and
// pruner, waits for in-flight prepares (which is where this implementation
// performs downloads) to finish, and marks the manager closed. Idempotent:
// a second call is a no-op.
func (m *StorageManager) CloseStorage(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		inFlight := len(m.preparingSet)
		m.mu.Unlock()
		if inFlight == 0 {
			break
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := m.sched.ExpediteOperations(); err != nil {
		return err
	}
	if err := m.sched.Wait(ctx, nil); err != nil {
		return err
	}
	m.sched.Close()

	if m.mq != nil {
		m.mq.Close()
	}
	m.pr.Close()

	if m.watch != nil {
		if err := m.watch.Close(); err != nil {
			return err
		}
	}

	return nil
}

// GetSnapshots lists docID's remote versions, most recent first, or a
// synthetic single "current" entry when the manager was built with
// DisableS3.
func (m *StorageManager) GetSnapshots(ctx context.Context, docID string) ([]SnapshotInfo, error) {
	id, err := docid.Parse(docID)
	if err != nil {
		return nil, err
	}
	if m.disableS3 {
		return []SnapshotInfo{{SnapshotID: "current", DocID: docID}}, nil
	}

	versions, err := m.store.Versions(ctx, id.WithoutSnapshot())
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotInfo, len(versions))
	for i, v := range versions {
		out[i] = SnapshotInfo{SnapshotID: v.SnapshotID, LastModified: v.LastModified, DocID: docID}
	}
	return out, nil
}

// SnapshotInfo describes one historical version of a document.
type SnapshotInfo struct {
	SnapshotID   string
	LastModified time.Time
	DocID        string
}
