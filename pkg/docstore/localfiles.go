package docstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	gristExt     = ".grist"
	hashExt      = ".grist-hash"
	backupExt    = ".grist-backup"
	replacingExt = ".grist-replacing"
	editMetaExt  = ".grist-meta.json"
)

// safeName strips any path traversal from docID before it is spliced into a
// filesystem path, matching spec.md §6's "path traversal is stripped by
// basename". docid.Validate already rejects '/' via its character class;
// this is a second, cheap line of defense.
func safeName(docID string) string {
	return filepath.Base(docID)
}

// gristPath returns the live SQLite file path for docID.
func gristPath(root, docID string) string {
	return filepath.Join(root, safeName(docID)+gristExt)
}

// hashPath returns the "-hash" sidecar path for docID.
func hashPath(root, docID string) string {
	return filepath.Join(root, safeName(docID)+hashExt)
}

// replacingPath returns the transient "-replacing" holder path for docID.
func replacingPath(root, docID string) string {
	return filepath.Join(root, safeName(docID)+replacingExt)
}

// editMetaPath returns the optional debug "-meta.json" sidecar path for
// docID, written only when Config.Debug.WriteEditMetadataSidecar is set.
func editMetaPath(root, docID string) string {
	return filepath.Join(root, safeName(docID)+editMetaExt)
}

// backupPath allocates a unique "-backup-<uuid>" sidecar path for docID, so
// concurrent backups of the same document never collide (spec.md invariant
// 5).
func backupPath(root, docID string) string {
	return filepath.Join(root, fmt.Sprintf("%s%s-%s", safeName(docID), backupExt, uuid.NewString()))
}

// isTransientSidecar reports whether name (a bare filename, no directory)
// is one of the transient artifact kinds safe to delete during startup
// recovery: any "-backup-*" or "-replacing" file.
func isTransientSidecar(name string) bool {
	return strings.Contains(name, backupExt) || strings.HasSuffix(name, replacingExt)
}

// hashFile computes the hex MD5 digest of the file at path. This is the
// storage manager's own copy of the "hash utility" component (spec.md §2.1);
// it is kept separate from objectstore's internal md5File since the two
// packages hash different things (a live/backup SQLite file here, vs. an
// upload candidate there) and neither should import the other for it.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// localHashStore implements objectstore.LocalHashStore by reading and
// writing the "-hash" sidecar file directly, per spec.md §3's local
// artifact set. It never touches the network.
type localHashStore struct {
	root string
}

func (l *localHashStore) GetLocalHash(key string) (string, bool, error) {
	data, err := os.ReadFile(hashPath(l.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (l *localHashStore) SetLocalHash(key, digest string) error {
	return os.WriteFile(hashPath(l.root, key), []byte(digest), 0o644)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// copyFile copies src to dst, overwriting dst if it already exists.
func copyFile(ctx context.Context, src, dst string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := out.Close()
		if err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
