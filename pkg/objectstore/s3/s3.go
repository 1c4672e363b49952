// Package s3 implements objectstore.RawStore against Amazon S3 or an
// S3-compatible endpoint, using a versioned bucket so ListVersions and
// version-scoped Get can address any historical snapshot of a document.
//
// Grounded in the teacher's S3ContentStore: same client/bucket/keyPrefix
// shape, same ctx.Err() guard at the top of every method, same NoSuchKey
// detection for ErrNotFound.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gristlabs/docstore/pkg/objectstore"
)

// Store implements objectstore.RawStore using S3 object versioning: the
// ETag of a single-part PUT is an MD5 hex digest, which lets Checksummed
// verify uploads/downloads without a second round trip.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// Config configures a Store.
type Config struct {
	// Client is the configured S3 client. Required.
	Client *s3.Client

	// Bucket is the S3 bucket name. Required. The bucket must already have
	// versioning enabled and must already exist; this package does not
	// create or configure buckets.
	Bucket string

	// KeyPrefix is prepended to every docId when forming an S3 object key,
	// e.g. "docs/" turns docId "abc123" into key "docs/abc123".
	KeyPrefix string
}

// New creates a Store and verifies bucket access with a HeadBucket call.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{client: cfg.Client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}, nil
}

func (s *Store) objectKey(key string) string {
	return s.keyPrefix + key
}

// isNoSuchKey reports whether err is S3's NoSuchKey / NotFound response.
func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// Put uploads the file at localPath to key, returning S3's VersionId and
// the ETag (an MD5 hex digest for single-part, non-multipart uploads —
// every write here goes through PutObject, so this always holds).
func (s *Store) Put(ctx context.Context, key, localPath string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   f,
	})
	if err != nil {
		return "", "", fmt.Errorf("put %s: %w", key, err)
	}

	versionID := ""
	if out.VersionId != nil {
		versionID = *out.VersionId
	}
	return versionID, trimETag(out.ETag), nil
}

// Get downloads key (a specific version when versionID is set) into
// destPath, returning the object's ETag.
func (s *Store) Get(ctx context.Context, key, destPath, versionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}

	result, err := s.client.GetObject(ctx, input)
	if err != nil {
		if isNoSuchKey(err) {
			return "", fmt.Errorf("key %s: %w", key, objectstore.ErrNotFound)
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	defer result.Body.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", destPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, result.Body); err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}

	return trimETag(result.ETag), nil
}

// Head reports existence and the current ETag of key without downloading
// its content.
func (s *Store) Head(ctx context.Context, key string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("head %s: %w", key, err)
	}

	return true, trimETag(result.ETag), nil
}

// Delete removes the current version of key (S3 semantics: this places a
// delete marker on a versioned bucket rather than erasing history, which
// is exactly what ListVersions/DeleteVersion need for the pruner).
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListVersions lists all object versions of key, most recent first.
func (s *Store) ListVersions(ctx context.Context, key string) ([]objectstore.VersionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objectKey := s.objectKey(key)
	var versions []objectstore.VersionInfo

	paginator := s3.NewListObjectVersionsPaginator(s.client, &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(objectKey),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list versions of %s: %w", key, err)
		}

		for _, v := range page.Versions {
			if v.Key == nil || *v.Key != objectKey {
				continue
			}
			info := objectstore.VersionInfo{Digest: trimETag(v.ETag)}
			if v.VersionId != nil {
				info.SnapshotID = *v.VersionId
			}
			if v.LastModified != nil {
				info.LastModified = *v.LastModified
			}
			if v.Size != nil {
				info.Size = *v.Size
			}
			versions = append(versions, info)
		}
	}

	return versions, nil
}

// DeleteVersion permanently deletes one historical version of key. Used by
// the snapshot pruner to enforce a retention policy.
func (s *Store) DeleteVersion(ctx context.Context, key, versionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:    aws.String(s.bucket),
		Key:       aws.String(s.objectKey(key)),
		VersionId: aws.String(versionID),
	}); err != nil {
		return fmt.Errorf("delete version %s of %s: %w", versionID, key, err)
	}
	return nil
}

// trimETag strips the surrounding quotes S3 always wraps ETags in.
func trimETag(etag *string) string {
	if etag == nil {
		return ""
	}
	s := *etag
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
