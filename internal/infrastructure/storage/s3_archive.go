// Package storage archives raw provider pages in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/ledgersync/internal/domain/integration"
	infraconfig "github.com/erp/ledgersync/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ensure S3PageArchive implements PageArchive
var _ integration.PageArchive = (*S3PageArchive)(nil)

// S3PageArchive implements integration.PageArchive using AWS S3 SDK v2.
// It is compatible with any S3-compatible storage (AWS S3, MinIO, etc.)
type S3PageArchive struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3PageArchiveOption is a functional option for configuring S3PageArchive
type S3PageArchiveOption func(*s3ArchiveOptions)

type s3ArchiveOptions struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// WithLogger sets a custom logger for S3PageArchive
func WithLogger(logger *zap.Logger) S3PageArchiveOption {
	return func(o *s3ArchiveOptions) {
		o.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used by the S3 SDK
func WithHTTPClient(c *http.Client) S3PageArchiveOption {
	return func(o *s3ArchiveOptions) {
		o.httpClient = c
	}
}

// NewS3PageArchive creates a new S3PageArchive from configuration
func NewS3PageArchive(cfg *infraconfig.StorageConfig, opts ...S3PageArchiveOption) (*S3PageArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	options := s3ArchiveOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&options)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if options.httpClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(options.httpClient))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	var endpoint string
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		// S3-compatible backends do not all accept trailing checksums
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3PageArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: options.logger,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *S3PageArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ArchivePage uploads the undecoded body of one provider page
func (a *S3PageArchive) ArchivePage(ctx context.Context, tenantID, runID uuid.UUID, module integration.ModuleID, page int64, body []byte) error {
	key := a.ObjectKey(tenantID, runID, module, page)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive page %s: %w", key, err)
	}
	return nil
}

// ObjectKey returns prefix/tenant/run/module/000042.json
func (a *S3PageArchive) ObjectKey(tenantID, runID uuid.UUID, module integration.ModuleID, page int64) string {
	return path.Join(a.prefix,
		tenantID.String(),
		runID.String(),
		strings.ToLower(string(module)),
		fmt.Sprintf("%06d.json", page),
	)
}

// GetBucket returns the bucket name
func (a *S3PageArchive) GetBucket() string {
	return a.bucket
}

// NopPageArchive discards pages. It is used when archiving is disabled.
type NopPageArchive struct{}

// ArchivePage does nothing
func (NopPageArchive) ArchivePage(context.Context, uuid.UUID, uuid.UUID, integration.ModuleID, int64, []byte) error {
	return nil
}
