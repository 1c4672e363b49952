// Package fs implements objectstore.RawStore over a local directory, used
// for GRIST_DISABLE_S3=true deployments and for tests that want a real
// filesystem without standing up Localstack.
//
// Each key is stored as its own subdirectory (named by the hex encoding of
// the key, following the teacher's FSContentStore path-safety convention)
// containing one file per version plus a "manifest.json" side file
// recording version metadata in upload order.
package fs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gristlabs/docstore/pkg/objectstore"
)

// manifestEntry is one version record persisted to manifest.json.
type manifestEntry struct {
	VersionID    string    `json:"versionId"`
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`
	Digest       string    `json:"digest"`
}

// Store implements objectstore.RawStore over basePath.
type Store struct {
	basePath string

	// mu serializes manifest read-modify-write cycles. A single store-wide
	// lock is simple and matches the teacher's choice of a coarse RWMutex
	// in MemoryContentStore; per-key locking is not worth the complexity
	// here since uploads are already serialized per docId by the scheduler.
	mu sync.Mutex
}

// New creates a Store rooted at basePath, creating the directory if needed.
func New(ctx context.Context, basePath string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root %s: %w", basePath, err)
	}
	return &Store{basePath: basePath}, nil
}

// keyDir returns the directory holding all versions of key.
func (s *Store) keyDir(key string) string {
	return filepath.Join(s.basePath, hex.EncodeToString([]byte(key)))
}

func (s *Store) manifestPath(key string) string {
	return filepath.Join(s.keyDir(key), "manifest.json")
}

func (s *Store) versionPath(key, versionID string) string {
	return filepath.Join(s.keyDir(key), "v-"+versionID)
}

// readManifest returns the manifest entries for key, newest last, or an
// empty slice if the key has never been written. Callers must hold s.mu.
func (s *Store) readManifest(key string) ([]manifestEntry, error) {
	data, err := os.ReadFile(s.manifestPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest for %s: %w", key, err)
	}
	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest for %s: %w", key, err)
	}
	return entries, nil
}

// writeManifest persists entries for key. Callers must hold s.mu.
func (s *Store) writeManifest(key string, entries []manifestEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode manifest for %s: %w", key, err)
	}
	if err := os.WriteFile(s.manifestPath(key), data, 0o644); err != nil {
		return fmt.Errorf("write manifest for %s: %w", key, err)
	}
	return nil
}

// Put implements objectstore.RawStore.
func (s *Store) Put(ctx context.Context, key, localPath string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", localPath, err)
	}
	digest := md5Digest(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.keyDir(key), 0o755); err != nil {
		return "", "", fmt.Errorf("create directory for %s: %w", key, err)
	}

	versionID := uuid.NewString()
	if err := os.WriteFile(s.versionPath(key, versionID), data, 0o644); err != nil {
		return "", "", fmt.Errorf("write version %s of %s: %w", versionID, key, err)
	}

	entries, err := s.readManifest(key)
	if err != nil {
		return "", "", err
	}
	entries = append(entries, manifestEntry{
		VersionID:    versionID,
		LastModified: time.Now(),
		Size:         int64(len(data)),
		Digest:       digest,
	})
	if err := s.writeManifest(key, entries); err != nil {
		return "", "", err
	}

	return versionID, digest, nil
}

// Get implements objectstore.RawStore.
func (s *Store) Get(ctx context.Context, key, destPath, versionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	entries, err := s.readManifest(key)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("key %s: %w", key, objectstore.ErrNotFound)
	}

	entry := entries[len(entries)-1]
	if versionID != "" {
		found := false
		for _, e := range entries {
			if e.VersionID == versionID {
				entry = e
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("version %s of %s: %w", versionID, key, objectstore.ErrNotFound)
		}
	}

	src, err := os.Open(s.versionPath(key, entry.VersionID))
	if err != nil {
		return "", fmt.Errorf("open version %s of %s: %w", entry.VersionID, key, err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", destPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy version %s of %s: %w", entry.VersionID, key, err)
	}

	return entry.Digest, nil
}

// Head implements objectstore.RawStore.
func (s *Store) Head(ctx context.Context, key string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	s.mu.Lock()
	entries, err := s.readManifest(key)
	s.mu.Unlock()
	if err != nil {
		return false, "", err
	}
	if len(entries) == 0 {
		return false, "", nil
	}
	return true, entries[len(entries)-1].Digest, nil
}

// Delete implements objectstore.RawStore. Idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.keyDir(key)); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// ListVersions implements objectstore.RawStore, most recent first.
func (s *Store) ListVersions(ctx context.Context, key string) ([]objectstore.VersionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entries, err := s.readManifest(key)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]objectstore.VersionInfo, len(entries))
	for i, e := range entries {
		out[i] = objectstore.VersionInfo{
			SnapshotID:   e.VersionID,
			LastModified: e.LastModified,
			Size:         e.Size,
			Digest:       e.Digest,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}

// DeleteVersion implements objectstore.RawStore.
func (s *Store) DeleteVersion(ctx context.Context, key, versionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readManifest(key)
	if err != nil {
		return err
	}

	idx := -1
	for i, e := range entries {
		if e.VersionID == versionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("version %s of %s: %w", versionID, key, objectstore.ErrNotFound)
	}

	if err := os.Remove(s.versionPath(key, versionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove version %s of %s: %w", versionID, key, err)
	}

	entries = append(entries[:idx], entries[idx+1:]...)
	return s.writeManifest(key, entries)
}
