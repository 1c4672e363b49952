// Package badger implements directory.Directory on top of BadgerDB, giving
// the worker directory compare-and-set semantics per docId via Badger
// transactions — the same db.Update/txn.Get/txn.Set idiom the teacher's
// BadgerMetadataStore uses for its singleton keys, applied here to a single
// namespace of per-doc ownership records instead of a filesystem tree.
//
// This is meant for a single-process multi-worker simulation or a
// single-node deployment; a real multi-node cluster would back Directory
// with a networked store instead, but the CAS contract is identical.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	bdg "github.com/dgraph-io/badger/v4"

	"github.com/gristlabs/docstore/pkg/directory"
)

// Config configures a Store.
type Config struct {
	// DBPath is the directory BadgerDB will use for its files. Required.
	DBPath string

	// Options overrides badger.DefaultOptions(DBPath) entirely, when set.
	Options *bdg.Options
}

// Store implements directory.Directory over a BadgerDB database.
type Store struct {
	db *bdg.DB
}

// New opens (creating if necessary) a BadgerDB database at cfg.DBPath.
func New(ctx context.Context, cfg Config) (*Store, error) {
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
		return nil, fmt.Errorf("open worker directory db at %s: %w", cfg.DBPath, err)
	}

	return &Store{db: db}, nil
}

// Close implements directory.Directory.
func (s *Store) Close() error {
	return s.db.Close()
}

// record is the JSON-on-disk form of directory.Status.
type record struct {
	OwnerWorkerID string  `json:"ownerWorkerId"`
	IsActive      bool    `json:"isActive"`
	DocMD5        *string `json:"docMd5,omitempty"`
}

func (r record) toStatus() directory.Status {
	return directory.Status{OwnerWorkerID: r.OwnerWorkerID, IsActive: r.IsActive, DocMD5: r.DocMD5}
}

// GetDocWorkerOrAssign implements directory.Directory. The read-then-write
// happens inside a single Badger transaction so two workers racing to claim
// the same unowned docId cannot both observe themselves as the winner:
// Badger aborts the losing transaction with ErrConflict and the caller
// (via the scheduler or a direct retry) is expected to call again.
func (s *Store) GetDocWorkerOrAssign(ctx context.Context, docID, selfWorkerID string) (directory.Status, error) {
	if err := ctx.Err(); err != nil {
		return directory.Status{}, err
	}

	var result directory.Status

	err := s.db.Update(func(txn *bdg.Txn) error {
		var current record
		item, err := txn.Get(docKey(docID))
		switch {
		case err == bdg.ErrKeyNotFound:
			current = record{OwnerWorkerID: selfWorkerID, IsActive: true}
		case err != nil:
			return fmt.Errorf("read doc %s: %w", docID, err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return fmt.Errorf("decode doc %s: %w", docID, err)
			}
			if !current.IsActive {
				current.OwnerWorkerID = selfWorkerID
				current.IsActive = true
			}
		}

		encoded, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("encode doc %s: %w", docID, err)
		}
		if err := txn.Set(docKey(docID), encoded); err != nil {
			return fmt.Errorf("write doc %s: %w", docID, err)
		}

		result = current.toStatus()
		return nil
	})
	if err != nil {
		return directory.Status{}, err
	}

	return result, nil
}

// GetDocWorker implements directory.Directory.
func (s *Store) GetDocWorker(ctx context.Context, docID string) (directory.Status, bool, error) {
	if err := ctx.Err(); err != nil {
		return directory.Status{}, false, err
	}

	var result directory.Status
	found := false

	err := s.db.View(func(txn *bdg.Txn) error {
		item, err := txn.Get(docKey(docID))
		if err == bdg.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read doc %s: %w", docID, err)
		}

		var rec record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("decode doc %s: %w", docID, err)
		}

		result = rec.toStatus()
		found = true
		return nil
	})
	if err != nil {
		return directory.Status{}, false, err
	}

	return result, found, nil
}

// UpdateDocStatus implements directory.Directory.
func (s *Store) UpdateDocStatus(ctx context.Context, docID, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *bdg.Txn) error {
		var current record
		item, err := txn.Get(docKey(docID))
		switch {
		case err == bdg.ErrKeyNotFound:
			// Recording a digest for a docId the directory has never seen
			// (e.g. a document created elsewhere and migrated in) is
			// allowed; ownership fields stay zero until someone calls
			// GetDocWorkerOrAssign.
		case err != nil:
			return fmt.Errorf("read doc %s: %w", docID, err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return fmt.Errorf("decode doc %s: %w", docID, err)
			}
		}

		d := digest
		current.DocMD5 = &d

		encoded, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("encode doc %s: %w", docID, err)
		}
		return txn.Set(docKey(docID), encoded)
	})
}
