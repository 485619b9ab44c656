// Package publish uploads finished artifacts to an S3-compatible bucket.
package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// bucketClient is the subset of *minio.Client the publisher needs.
type bucketClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Publisher writes every artifact twice: once under "<prefix>/<name>" as the
// latest copy and once under "<prefix>/runs/<runID>/<name>" for history.
type S3Publisher struct {
	client   bucketClient
	bucket   string
	region   string
	prefix   string
	initOnce sync.Once
	initErr  error
}

// Object is one uploaded key.
type Object struct {
	Key  string
	Size int64
	ETag string
}

func NewS3Publisher(cfg S3Config) (*S3Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return newS3Publisher(client, bucket, region, cfg.Prefix), nil
}

func newS3Publisher(client bucketClient, bucket, region, prefix string) *S3Publisher {
	return &S3Publisher{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}
}

func (p *S3Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads each local file. It stops at the first failure; objects
// uploaded before it are left in place.
func (p *S3Publisher) Publish(ctx context.Context, runID string, files ...string) ([]Object, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("publisher is nil")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", p.bucket, err)
	}

	out := make([]Object, 0, 2*len(files))
	for _, file := range files {
		name := filepath.Base(file)
		opts := minio.PutObjectOptions{ContentType: contentType(name)}
		for _, key := range []string{objectKey(p.prefix, "", name), objectKey(p.prefix, runID, name)} {
			info, err := p.client.FPutObject(ctx, p.bucket, key, file, opts)
			if err != nil {
				return out, fmt.Errorf("put s3://%s/%s: %w", p.bucket, key, err)
			}
			out = append(out, Object{Key: key, Size: info.Size, ETag: info.ETag})
		}
	}
	return out, nil
}

// objectKey returns "<prefix>/<name>" or, with a runID,
// "<prefix>/runs/<runID>/<name>". An empty prefix is omitted.
func objectKey(prefix, runID, name string) string {
	parts := make([]string, 0, 4)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if runID != "" {
		parts = append(parts, "runs", runID)
	}
	parts = append(parts, strings.TrimLeft(name, "/"))
	return path.Join(parts...)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
