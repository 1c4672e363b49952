package directory

import (
	"context"
	"fmt"
)

// SharedHashAdapter adapts a Directory into the narrower
// objectstore.SharedHashStore interface the checksummed store depends on,
// so objectstore never needs to import this package (or know about
// ownership/isActive at all).
type SharedHashAdapter struct {
	Dir Directory

	// SelfWorkerID is used only to keep GetDocWorkerOrAssign side effects
	// out of a pure hash read: SharedHashAdapter always calls GetDocWorker,
	// never GetDocWorkerOrAssign, so no worker id is actually required, but
	// it is kept here so callers don't need a second adapter type if that
	// ever changes.
	SelfWorkerID string
}

// GetSharedHash implements objectstore.SharedHashStore.
func (a SharedHashAdapter) GetSharedHash(ctx context.Context, key string) (string, bool, error) {
	status, ok, err := a.Dir.GetDocWorker(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read shared hash for %s: %w", key, err)
	}
	if !ok || status.DocMD5 == nil {
		return "", false, nil
	}
	return *status.DocMD5, true, nil
}

// SetSharedHash implements objectstore.SharedHashStore.
func (a SharedHashAdapter) SetSharedHash(ctx context.Context, key, digest string) error {
	if err := a.Dir.UpdateDocStatus(ctx, key, digest); err != nil {
		return fmt.Errorf("set shared hash for %s: %w", key, err)
	}
	return nil
}
