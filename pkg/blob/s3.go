package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/trovehq/trove/pkg/errs"
)

// S3Config holds the settings for an S3-backed blob store. Endpoint and
// path-style addressing support MinIO in local development.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Store stores blobs as S3 objects under blobs/<hash[0:2]>/<hash>, the
// same two-character sharding the filesystem store uses so operators can
// migrate between backends with a plain object copy.
type S3Store struct {
	client  *s3.Client
	bucket  string
	metrics *Metrics
}

// NewS3Store creates an S3 blob store, ensuring the bucket exists. Static
// credentials are used when provided; otherwise the default AWS credential
// chain applies.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, errs.WrapOperation(err, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// WithMetrics attaches operation counters.
func (s *S3Store) WithMetrics(m *Metrics) *S3Store {
	s.metrics = m
	return s
}

func objectKey(hash string) string {
	return fmt.Sprintf("blobs/%s/%s", hash[:2], hash)
}

// Put implements Store. An existing object under the hash key short-circuits
// the upload; S3 PutObject is itself atomic, so a concurrent duplicate
// upload converges on identical content.
func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	hash := HashBytes(data)
	key := objectKey(hash)

	exists, err := s.headObject(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		s.metrics.countPut("dedup")
		return hash, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			"checksum-sha256": hash,
		},
	})
	if err != nil {
		return "", errs.WrapOperation(err, "failed to upload blob %s", hash)
	}
	s.metrics.countPut("written")
	return hash, nil
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(hash)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, errs.NewNotFound(hash)
		}
		return nil, errs.WrapOperation(err, "failed to get blob %s", hash)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errs.WrapOperation(err, "failed to read blob %s", hash)
	}
	s.metrics.countGet()
	return data, nil
}

// Delete implements Store. S3 DeleteObject succeeds on absent keys, which
// matches the idempotent delete contract directly.
func (s *S3Store) Delete(ctx context.Context, hash string) error {
	if err := validateHash(hash); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(hash)),
	})
	if err != nil {
		return errs.WrapOperation(err, "failed to delete blob %s", hash)
	}
	s.metrics.countDelete()
	return nil
}

// Exists implements Store.
func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	if err := validateHash(hash); err != nil {
		return false, err
	}
	return s.headObject(ctx, objectKey(hash))
}

// HealthCheck verifies bucket connectivity.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return errs.WrapOperation(err, "s3 health check failed")
	}
	return nil
}

func (s *S3Store) headObject(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, errs.WrapOperation(err, "failed to check blob existence")
	}
	return true, nil
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil && !isBucketExistsError(err) {
		return errs.WrapOperation(err, "failed to create bucket %s", bucket)
	}
	return nil
}

func isS3NotFound(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey"))
}

func isBucketExistsError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "BucketAlreadyExists") ||
		strings.Contains(err.Error(), "BucketAlreadyOwnedByYou"))
}
