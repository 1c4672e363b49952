// Package memory implements objectstore.RawStore entirely in-memory, for
// unit tests and for GRIST_DISABLE_S3=true development runs that don't need
// durability across a restart.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gristlabs/docstore/pkg/objectstore"
)

// object is one stored version of a key.
type object struct {
	versionID    string
	data         []byte
	digest       string
	lastModified time.Time
}

// Store implements objectstore.RawStore using an in-memory map of version
// slices. Like the teacher's MemoryContentStore, every operation is
// protected by a single RWMutex and returns copies of stored data so
// callers can't race with the store's internal state.
//
// Unlike the teacher's store, Store keeps every version ever written under
// a key rather than overwriting in place, since RawStore must support
// ListVersions/Get-by-version for the snapshot pruner and for historical
// downloads.
type Store struct {
	mu       sync.RWMutex
	objects  map[string][]object // newest last
	sequence int
}

// New creates an empty in-memory object store.
func New() *Store {
	return &Store{objects: make(map[string][]object)}
}

func (s *Store) nextVersionID() string {
	s.sequence++
	return strconv.Itoa(s.sequence)
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

	versionID := s.nextVersionID()
	s.objects[key] = append(s.objects[key], object{
		versionID:    versionID,
		data:         data,
		digest:       digest,
		lastModified: time.Now(),
	})

	return versionID, digest, nil
}

// Get implements objectstore.RawStore.
func (s *Store) Get(ctx context.Context, key, destPath, versionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	obj, err := s.find(key, versionID)
	s.mu.RUnlock()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(destPath, obj.data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", destPath, err)
	}

	return obj.digest, nil
}

// Head implements objectstore.RawStore.
func (s *Store) Head(ctx context.Context, key string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.objects[key]
	if len(versions) == 0 {
		return false, "", nil
	}
	return true, versions[len(versions)-1].digest, nil
}

// Delete implements objectstore.RawStore. Idempotent: deleting an unknown
// key is not an error, matching the teacher's content store contract.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// ListVersions implements objectstore.RawStore, most recent first.
func (s *Store) ListVersions(ctx context.Context, key string) ([]objectstore.VersionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.objects[key]
	out := make([]objectstore.VersionInfo, len(versions))
	for i, v := range versions {
		out[i] = objectstore.VersionInfo{
			SnapshotID:   v.versionID,
			LastModified: v.lastModified,
			Size:         int64(len(v.data)),
			Digest:       v.digest,
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

	versions := s.objects[key]
	for i, v := range versions {
		if v.versionID == versionID {
			s.objects[key] = append(versions[:i], versions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("version %s of %s: %w", versionID, key, objectstore.ErrNotFound)
}

// find returns the requested version of key (or the latest, if versionID is
// empty) without copying the underlying byte slice. Callers under s.mu only.
func (s *Store) find(key, versionID string) (object, error) {
	versions := s.objects[key]
	if len(versions) == 0 {
		return object{}, fmt.Errorf("key %s: %w", key, objectstore.ErrNotFound)
	}
	if versionID == "" {
		return versions[len(versions)-1], nil
	}
	for _, v := range versions {
		if v.versionID == versionID {
			return v, nil
		}
	}
	return object{}, fmt.Errorf("version %s of %s: %w", versionID, key, objectstore.ErrNotFound)
}

func md5Digest(data []byte) string {
	h := md5.New()
	_, _ = io.Copy(h, bytes.NewReader(data))
	return hex.EncodeToString(h.Sum(nil))
}
