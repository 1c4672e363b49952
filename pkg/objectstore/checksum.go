package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gristlabs/docstore/pkg/metrics"
)

// Default retry/backoff parameters, overridable via Option.
const (
	defaultMaxRetries   = 5
	defaultInitialDelay = 200 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
)

// Checksummed wraps a RawStore with the digest-verification policy: every
// upload is verified read-after-write, every download (and exists check) is
// verified against the sharedHash once one is known, and disagreements are
// retried with exponential backoff before giving up.
//
// Checksummed also keeps a per-process cache of the most recently observed
// version id per key (latestVersion), so a push immediately followed by a
// read of "the version I just wrote" does not need a round trip.
type Checksummed struct {
	raw    RawStore
	shared SharedHashStore
	local  LocalHashStore

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration

	metrics *metrics.ObjectStoreMetrics
	log     *slog.Logger

	mu            sync.Mutex
	latestVersion map[string]string
}

// Option configures a Checksummed at construction time.
type Option func(*Checksummed)

// WithRetryPolicy overrides the default retry count and backoff schedule.
func WithRetryPolicy(maxRetries int, initialDelay, maxDelay time.Duration) Option {
	return func(c *Checksummed) {
		c.maxRetries = maxRetries
		c.initialDelay = initialDelay
		c.maxDelay = maxDelay
	}
}

// WithMetrics attaches a metrics sink. Passing nil (the default) disables
// metrics collection entirely.
func WithMetrics(m *metrics.ObjectStoreMetrics) Option {
	return func(c *Checksummed) { c.metrics = m }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checksummed) { c.log = l }
}

// NewChecksummed builds a Checksummed store over raw, using shared and local
// as the sharedHash/localHash side channels described in the package doc.
func NewChecksummed(raw RawStore, shared SharedHashStore, local LocalHashStore, opts ...Option) *Checksummed {
	c := &Checksummed{
		raw:           raw,
		shared:        shared,
		local:         local,
		maxRetries:    defaultMaxRetries,
		initialDelay:  defaultInitialDelay,
		maxDelay:      defaultMaxDelay,
		log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		latestVersion: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload computes the MD5 of the file at localPath, PUTs it to key, and
// verifies the upload by comparing the backend's reported digest against
// the one just computed. On success it records both sharedHash and
// localHash and caches the returned version id.
func (c *Checksummed) Upload(ctx context.Context, key, localPath string) (versionID string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	digest, err := md5File(localPath)
	if err != nil {
		return "", fmt.Errorf("hash %s before upload: %w", localPath, err)
	}

	versionID, err = c.retry(ctx, "upload", func() (string, string, error) {
		vid, remoteDigest, err := c.raw.Put(ctx, key, localPath)
		if err != nil {
			return "", "", err
		}
		if remoteDigest != "" && remoteDigest != digest {
			return "", "", fmt.Errorf("upload %s: remote digest %s disagrees with local %s: %w", key, remoteDigest, digest, ErrChecksumMismatch)
		}
		return vid, digest, nil
	})
	c.metrics.ObserveOperation("upload", err == nil, 0)
	if err != nil {
		return "", err
	}

	if err := c.shared.SetSharedHash(ctx, key, digest); err != nil {
		return "", fmt.Errorf("record shared hash for %s: %w", key, err)
	}
	if err := c.local.SetLocalHash(key, digest); err != nil {
		return "", fmt.Errorf("record local hash for %s: %w", key, err)
	}

	c.mu.Lock()
	c.latestVersion[key] = versionID
	c.mu.Unlock()

	return versionID, nil
}

// Download fetches key into destPath. When snapshotID is empty, the result
// is verified against the known sharedHash (if any); a mismatch triggers a
// retry. When snapshotID is set the caller is explicitly asking for a
// specific historical version, so no sharedHash comparison is made — an old
// version legitimately disagrees with the current sharedHash.
func (c *Checksummed) Download(ctx context.Context, key, destPath, snapshotID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	verify := snapshotID == ""

	_, err := c.retry(ctx, "download", func() (string, string, error) {
		digest, err := c.raw.Get(ctx, key, destPath, snapshotID)
		if err != nil {
			return "", "", err
		}
		if verify {
			if shared, ok, err := c.shared.GetSharedHash(ctx, key); err == nil && ok && digest != "" && digest != shared {
				return "", "", fmt.Errorf("download %s: digest %s disagrees with shared hash %s: %w", key, digest, shared, ErrChecksumMismatch)
			}
		}
		return "", digest, nil
	})
	c.metrics.ObserveOperation("download", err == nil, 0)
	if err != nil {
		return err
	}

	if verify {
		if digest, err := md5File(destPath); err == nil {
			if err := c.local.SetLocalHash(key, digest); err != nil {
				return fmt.Errorf("record local hash for %s: %w", key, err)
			}
		}
	}

	return nil
}

// Exists reports whether key is present, using a HEAD request. If a
// sharedHash is known and the HEAD digest disagrees, the HEAD is retried up
// to maxRetries before the disagreement is surfaced as an error.
func (c *Checksummed) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	present, err := c.retry(ctx, "exists", func() (string, string, error) {
		exists, digest, err := c.raw.Head(ctx, key)
		if err != nil {
			return "", "", err
		}
		if !exists {
			return "false", "", nil
		}
		if shared, ok, err := c.shared.GetSharedHash(ctx, key); err == nil && ok && digest != "" && digest != shared {
			return "", "", fmt.Errorf("exists %s: digest %s disagrees with shared hash %s: %w", key, digest, shared, ErrChecksumMismatch)
		}
		return "true", digest, nil
	})
	c.metrics.ObserveOperation("exists", err == nil, 0)
	if err != nil {
		return false, err
	}
	return present == "true", nil
}

// Remove deletes key and marks its sharedHash with the DELETED sentinel, so
// other workers racing to re-assign the doc see that it was torn down
// rather than re-reading a stale, now-nonexistent digest.
func (c *Checksummed) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.raw.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if err := c.shared.SetSharedHash(ctx, key, DeletedDigest); err != nil {
		return fmt.Errorf("record deletion of %s: %w", key, err)
	}
	c.mu.Lock()
	delete(c.latestVersion, key)
	c.mu.Unlock()
	return nil
}

// Versions lists all known versions of key, unverified (version listings
// have no single digest to check against sharedHash).
func (c *Checksummed) Versions(ctx context.Context, key string) ([]VersionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	versions, err := c.raw.ListVersions(ctx, key)
	c.metrics.ObserveOperation("versions", err == nil, 0)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", key, err)
	}
	return versions, nil
}

// DeleteVersion permanently removes one historical version of key. Used by
// the pruner; does not touch sharedHash since the current version is
// untouched.
func (c *Checksummed) DeleteVersion(ctx context.Context, key, versionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.raw.DeleteVersion(ctx, key, versionID); err != nil {
		return fmt.Errorf("delete version %s of %s: %w", versionID, key, err)
	}
	return nil
}

// LatestVersion returns the version id this process most recently wrote for
// key, if any, without a round trip to the backend.
func (c *Checksummed) LatestVersion(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.latestVersion[key]
	return v, ok
}

// retry runs fn up to c.maxRetries+1 times with exponential backoff,
// stopping as soon as fn succeeds. It returns fn's first string result on
// success. busy/checksum-mismatch errors are retried; ctx cancellation is
// not.
func (c *Checksummed) retry(ctx context.Context, op string, fn func() (string, string, error)) (string, error) {
	delay := c.initialDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		result, _, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == c.maxRetries {
			break
		}

		c.metrics.IncHashRetry(op)
		c.log.Warn("objectstore operation retrying", "operation", op, "attempt", attempt+1, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}

		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}

	return "", fmt.Errorf("%s: %w after %d attempts: %w", op, ErrMaxRetriesExceeded, c.maxRetries+1, lastErr)
}

// md5File hashes the file at path.
func md5File(path string) (string, error) {
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
