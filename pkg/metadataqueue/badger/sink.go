// Package badger implements metadataqueue.Sink on top of BadgerDB, so a
// worker that crashes after debouncing an edit but before the workspace
// database acknowledged it can replay the pending update on restart,
// following the same db.Update/txn.Set idiom as pkg/directory/badger.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bdg "github.com/dgraph-io/badger/v4"

	"github.com/gristlabs/docstore/pkg/metadataqueue"
)

// Config configures a Sink.
type Config struct {
	// DBPath is the directory BadgerDB will use for its files. Required.
	DBPath string

	// Options overrides badger.DefaultOptions(DBPath) entirely, when set.
	Options *bdg.Options
}

// Sink persists every pushed update keyed by docId, overwriting the prior
// record — only the most recent edit per document needs to survive a
// crash.
type Sink struct {
	db *bdg.DB
}

// New opens (creating if necessary) a BadgerDB database at cfg.DBPath.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path is required")
	}

	opts := bdg.DefaultOptions(cfg.DBPath)
	if cfg.Options != nil {
		opts = *cfg.Options
	} else {
		opts = opts.WithLoggingLevel(bdg.WARNING)
	}

	db, err := bdg.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open metadata queue db at %s: %w", cfg.DBPath, err)
	}
	return &Sink{db: db}, nil
}

// Close closes the underlying database.
func (s *Sink) Close() error {
	return s.db.Close()
}

type record struct {
	DocID     string    `json:"docId"`
	UpdatedAt time.Time `json:"updatedAt"`
	EditedBy  string    `json:"editedBy"`
}

// Push implements metadataqueue.Sink.
func (s *Sink) Push(ctx context.Context, update metadataqueue.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := record{DocID: update.DocID, UpdatedAt: update.UpdatedAt, EditedBy: update.EditedBy}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode metadata update for %s: %w", update.DocID, err)
	}

	return s.db.Update(func(txn *bdg.Txn) error {
		return txn.Set(updateKey(update.DocID), encoded)
	})
}

// Pending returns the most recently persisted update for docID, used on
// worker restart to replay an update that had not yet been acknowledged by
// the workspace database.
func (s *Sink) Pending(ctx context.Context, docID string) (metadataqueue.Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return metadataqueue.Update{}, false, err
	}

	var (
		rec   record
		found bool
	)
	err := s.db.View(func(txn *bdg.Txn) error {
		item, err := txn.Get(updateKey(docID))
		if err == bdg.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read metadata update for %s: %w", docID, err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("decode metadata update for %s: %w", docID, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return metadataqueue.Update{}, false, err
	}
	if !found {
		return metadataqueue.Update{}, false, nil
	}
	return metadataqueue.Update{DocID: rec.DocID, UpdatedAt: rec.UpdatedAt, EditedBy: rec.EditedBy}, true, nil
}

func updateKey(docID string) []byte {
	return []byte("metadataqueue:" + docID)
}
