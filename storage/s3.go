package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DefaultS3Timeout bounds each S3 call.
const DefaultS3Timeout = 30 * time.Second

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config configures NewS3Store.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string // minio or localstack; enables path-style addressing
	Prefix        string // key prefix, e.g. "images/"
	PublicBaseURL string // overrides the virtual-hosted bucket URL
	Timeout       time.Duration
}

// S3Store stores objects in an S3 bucket.
type S3Store struct {
	client  S3API
	cfg     S3Config
	baseURL string
}

// NewS3Client loads the default AWS credential chain for cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadCtx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Store wraps client for cfg.Bucket.
func NewS3Store(client S3API, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 bucket is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultS3Timeout
	}

	base := cfg.PublicBaseURL
	switch {
	case base != "":
	case cfg.Endpoint != "":
		base = joinURL(cfg.Endpoint, cfg.Bucket)
	default:
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	if cfg.Prefix != "" {
		base = joinURL(base, strings.Trim(cfg.Prefix, "/"))
	}

	return &S3Store{client: client, cfg: cfg, baseURL: base}, nil
}

func (s *S3Store) key(name string) string {
	if s.cfg.Prefix == "" {
		return name
	}
	return strings.Trim(s.cfg.Prefix, "/") + "/" + name
}

// Save uploads data and returns its public URL.
func (s *S3Store) Save(ctx context.Context, data []byte, filename string, meta Metadata) (string, error) {
	name, err := ObjectName(filename)
	if err != nil {
		return "", err
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(name)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	_, err = s.client.PutObject(callCtx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    objectMetadata(meta),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", name, err)
	}
	return joinURL(s.baseURL, name), nil
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to report whether anything was removed.
func (s *S3Store) Delete(ctx context.Context, urlOrName string) (bool, error) {
	existed, err := s.Exists(ctx, urlOrName)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	name, _ := ObjectName(urlOrName)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if _, err := s.client.DeleteObject(callCtx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(name)),
	}); err != nil {
		return false, fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return true, nil
}

// Exists issues a HeadObject for the object.
func (s *S3Store) Exists(ctx context.Context, urlOrName string) (bool, error) {
	name, err := ObjectName(urlOrName)
	if err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	_, err = s.client.HeadObject(callCtx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("storage: head %s: %w", name, err)
}

func objectMetadata(meta Metadata) map[string]string {
	out := map[string]string{}
	if meta.Provider != "" {
		out["provider"] = meta.Provider
	}
	if meta.RequestID != "" {
		out["request-id"] = meta.RequestID
	}
	if meta.UserID != "" {
		out["user-id"] = meta.UserID
	}
	return out
}
