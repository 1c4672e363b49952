// Package memory provides an in-process metadataqueue.Sink for tests and
// for GRIST_DISABLE_S3 single-worker runs that do not need push durability
// across restarts.
package memory

import (
	"context"
	"sync"

	"github.com/gristlabs/docstore/pkg/metadataqueue"
)

// Sink records every pushed update, in order, protected by a mutex.
type Sink struct {
	mu      sync.Mutex
	updates []metadataqueue.Update
}

// New creates an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Push implements metadataqueue.Sink.
func (s *Sink) Push(ctx context.Context, update metadataqueue.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return nil
}

// Updates returns a snapshot of every update pushed so far, in push order.
func (s *Sink) Updates() []metadataqueue.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]metadataqueue.Update, len(s.updates))
	copy(out, s.updates)
	return out
}

// Latest returns the most recently pushed update for docID, if any.
func (s *Sink) Latest(docID string) (metadataqueue.Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest metadataqueue.Update
		found  bool
	)
	for _, u := range s.updates {
		if u.DocID == docID {
			latest = u
			found = true
		}
	}
	return latest, found
}
