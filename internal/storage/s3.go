package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures the S3 client. Empty credentials use the default chain.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Client wraps the AWS S3 client and transfer manager.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucketName string
}

// NewS3Client creates a new S3 client
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucketName: opts.Bucket,
	}, nil
}

// Bucket returns the configured bucket.
func (s *S3Client) Bucket() string { return s.bucketName }

// Ping checks the configured bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucketName, err)
	}
	return nil
}

// Download writes s3://bucket/key into w and returns the byte count.
func (s *S3Client) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Msg("downloaded object")
	return n, nil
}

// Upload stores body under key in the configured bucket and returns its s3:// URL.
func (s *S3Client) Upload(ctx context.Context, key string, body io.Reader, meta map[string]string) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/pdf"),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	url := fmt.Sprintf("s3://%s/%s", s.bucketName, key)
	log.Info().Str("key", key).Str("url", url).Msg("uploaded merged document to S3")
	return url, nil
}

// ListNextVersion returns the next available integer suffix for a base key using pattern baseKey_v{N}
func (s *S3Client) ListNextVersion(ctx context.Context, baseKey string) (int, error) {
	if baseKey == "" {
		return 1, nil
	}

	prefix := baseKey + "_v"
	maxVersion := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 1, fmt.Errorf("list versions failed: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			verStr := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, prefix), ".pdf")
			if n, err := strconv.Atoi(verStr); err == nil && n > maxVersion {
				maxVersion = n
			}
		}
	}

	return maxVersion + 1, nil
}

// VersionedKey returns prefix/name_v{N}.pdf with the next free N.
func (s *S3Client) VersionedKey(ctx context.Context, prefix, name string) (string, error) {
	base := path.Join(prefix, strings.TrimSuffix(name, ".pdf"))
	v, err := s.ListNextVersion(ctx, base)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_v%d.pdf", base, v), nil
}

// ParseURL splits s3://bucket/key.
func ParseURL(u string) (bucket, key string, err error) {
	p := strings.TrimPrefix(u, "s3://")
	slash := strings.Index(p, "/")
	if !strings.HasPrefix(u, "s3://") || slash <= 0 || slash == len(p)-1 {
		return "", "", fmt.Errorf("invalid s3 url: %s", u)
	}
	return p[:slash], p[slash+1:], nil
}
