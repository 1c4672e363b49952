package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gristlabs/docstore/pkg/directory"
	dirbadger "github.com/gristlabs/docstore/pkg/directory/badger"
	dirmemory "github.com/gristlabs/docstore/pkg/directory/memory"
	"github.com/gristlabs/docstore/pkg/objectstore"
	objfs "github.com/gristlabs/docstore/pkg/objectstore/fs"
	objmemory "github.com/gristlabs/docstore/pkg/objectstore/memory"
	objs3 "github.com/gristlabs/docstore/pkg/objectstore/s3"
)

// CreateRawStore builds the objectstore.RawStore backend named by
// cfg.Type. Callers wrap the result in objectstore.NewChecksummed
// themselves, since the shared/local hash stores it needs come from the
// worker directory and the local docs root respectively, neither of which
// pkg/config knows how to build.
func CreateRawStore(ctx context.Context, cfg ObjectStoreConfig) (objectstore.RawStore, error) {
	switch cfg.Type {
	case "s3":
		return createS3Store(ctx, cfg.S3)
	case "fs":
		return objfs.New(ctx, cfg.Fs.Root)
	case "memory":
		return objmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown object store type: %q", cfg.Type)
	}
}

// createS3Store builds an S3 client from cfg and wraps it in an
// objectstore/s3.Store, following the teacher's createS3ContentStore:
// custom endpoint resolver for MinIO/Localstack, static credentials when
// supplied, retry policy, and path-style addressing when a custom endpoint
// is set.
func createS3Store(ctx context.Context, cfg S3Config) (objectstore.RawStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 object store: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 object store: region is required")
	}

	var options []func(*awsconfig.LoadOptions) error
	options = append(options, awsconfig.WithRegion(cfg.Region))

	if cfg.Endpoint != "" {
		//nolint:staticcheck // matches the teacher's endpoint resolver until BaseEndpoint stabilizes
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, opts ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck
		options = append(options, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		provider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		options = append(options, awsconfig.WithCredentialsProvider(provider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	options = append(options, awsconfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) { o.MaxAttempts = maxRetries })
	}))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	store, err := objs3.New(ctx, objs3.Config{Client: client, Bucket: cfg.Bucket, KeyPrefix: cfg.KeyPrefix})
	if err != nil {
		return nil, fmt.Errorf("create s3 object store: %w", err)
	}
	return store, nil
}

// CreateDirectory builds the worker directory client named by cfg.Type.
func CreateDirectory(ctx context.Context, cfg DirectoryConfig) (directory.Directory, error) {
	switch cfg.Type {
	case "badger":
		if cfg.Badger.DBPath == "" {
			return nil, fmt.Errorf("directory.badger.db_path is required")
		}
		return dirbadger.New(ctx, dirbadger.Config{DBPath: cfg.Badger.DBPath})
	case "memory":
		return dirmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown directory type: %q", cfg.Type)
	}
}
