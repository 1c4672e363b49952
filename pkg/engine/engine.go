// Package engine provides a thin database/sql wrapper around a single
// document's embedded SQLite file. It exists so the storage manager and its
// tests can create, open, and mutate real documents without depending on
// the (external, much larger) Grist document engine that owns the actual
// application schema — the storage manager only needs a document to be a
// SQLite file it can copy, hash, and back up.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Document wraps an open connection to one document's SQLite file.
type Document struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite file at path and ensures
// the two bookkeeping tables used by SetMeta/GetMeta and RecordEdit/EditCount
// exist.
func Open(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS _docstore_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS _docstore_edits (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		edited_by  TEXT NOT NULL,
		edited_at  TEXT NOT NULL
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema on %s: %w", path, err)
	}

	return &Document{db: db, path: path}, nil
}

// Close closes the underlying connection.
func (d *Document) Close() error {
	return d.db.Close()
}

// Path returns the SQLite file path this Document was opened from.
func (d *Document) Path() string {
	return d.path
}

// RecordEdit appends a row noting that editedBy made an edit at the current
// time. It does not checkpoint the WAL: callers copying the raw file must
// call Checkpoint first so the WAL contents are folded into the main
// database file.
func (d *Document) RecordEdit(ctx context.Context, editedBy string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO _docstore_edits (edited_by, edited_at) VALUES (?, ?)",
		editedBy, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record edit on %s: %w", d.path, err)
	}
	return nil
}

// Checkpoint folds the write-ahead log into the main database file, so a
// plain filesystem copy of the file (rather than a SQLite-aware backup) is
// a complete, consistent snapshot.
func (d *Document) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint %s: %w", d.path, err)
	}
	return nil
}

// SetMeta upserts a key/value pair into the document's metadata table, used
// by tests to prove that a downloaded/restored document round-trips
// application data, not just its file bytes.
func (d *Document) SetMeta(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO _docstore_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s on %s: %w", key, d.path, err)
	}
	return nil
}

// GetMeta reads a value previously written by SetMeta.
func (d *Document) GetMeta(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM _docstore_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s on %s: %w", key, d.path, err)
	}
	return value, true, nil
}

// EditCount returns how many RecordEdit calls have been made against this
// document's lifetime, including edits recorded before the process
// restarted.
func (d *Document) EditCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _docstore_edits").Scan(&n); err != nil {
		return 0, fmt.Errorf("count edits on %s: %w", d.path, err)
	}
	return n, nil
}
