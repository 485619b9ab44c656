package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket, key, file, contentType string
}

type fakeBucket struct {
	exists    bool
	existsErr error
	made      []string
	puts      []putCall
	putErrKey string
}

func (f *fakeBucket) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeBucket) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket+"@"+opts.Region)
	return nil
}

func (f *fakeBucket) FPutObject(ctx context.Context, bucket, key, file string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if key == f.putErrKey {
		return minio.UploadInfo{}, errors.New("access denied")
	}
	f.puts = append(f.puts, putCall{bucket: bucket, key: key, file: file, contentType: opts.ContentType})
	st, err := os.Stat(file)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	return minio.UploadInfo{Key: key, Size: st.Size(), ETag: "etag-" + key}, nil
}

func writeArtifacts(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "adblock.json")
	srsPath := filepath.Join(dir, "adblock.srs")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"version":3}`), 0o644))
	require.NoError(t, os.WriteFile(srsPath, []byte{0x53, 0x52, 0x53}, 0o644))
	return jsonPath, srsPath
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "adblock.json", objectKey("", "", "adblock.json"))
	assert.Equal(t, "rules/adblock.json", objectKey("rules", "", "adblock.json"))
	assert.Equal(t, "rules/runs/r1/adblock.srs", objectKey("rules", "r1", "adblock.srs"))
	assert.Equal(t, "runs/r1/x", objectKey("", "r1", "/x"))
}

func TestNewS3Publisher_Validation(t *testing.T) {
	t.Parallel()

	full := S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}

	tests := []struct {
		name   string
		mutate func(c *S3Config)
		want   string
	}{
		{"endpoint", func(c *S3Config) { c.Endpoint = " " }, "endpoint"},
		{"keys", func(c *S3Config) { c.SecretKey = "" }, "access key and secret key"},
		{"bucket", func(c *S3Config) { c.Bucket = "" }, "bucket"},
	}
	for _, tc := range tests {
		cfg := full
		tc.mutate(&cfg)
		_, err := NewS3Publisher(cfg)
		require.Error(t, err, tc.name)
		assert.Contains(t, err.Error(), tc.want)
	}

	p, err := NewS3Publisher(full)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", p.region)
}

func TestPublish_UploadsLatestAndRunCopies(t *testing.T) {
	t.Parallel()

	jsonPath, srsPath := writeArtifacts(t)
	fb := &fakeBucket{}
	p := newS3Publisher(fb, "rulesets", "eu-west-1", "/sing-box/")

	objs, err := p.Publish(context.Background(), "run-7", jsonPath, srsPath)
	require.NoError(t, err)

	assert.Equal(t, []string{"rulesets@eu-west-1"}, fb.made)
	require.Len(t, fb.puts, 4)
	assert.Equal(t, putCall{"rulesets", "sing-box/adblock.json", jsonPath, "application/json"}, fb.puts[0])
	assert.Equal(t, putCall{"rulesets", "sing-box/runs/run-7/adblock.json", jsonPath, "application/json"}, fb.puts[1])
	assert.Equal(t, "sing-box/runs/run-7/adblock.srs", fb.puts[3].key)
	assert.Equal(t, "application/octet-stream", fb.puts[3].contentType)

	require.Len(t, objs, 4)
	assert.Equal(t, int64(3), objs[2].Size)
}

func TestPublish_ExistingBucketIsNotRecreated(t *testing.T) {
	t.Parallel()

	jsonPath, _ := writeArtifacts(t)
	fb := &fakeBucket{exists: true}
	p := newS3Publisher(fb, "rulesets", "us-east-1", "")

	_, err := p.Publish(context.Background(), "r", jsonPath)
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), "r2", jsonPath)
	require.NoError(t, err)
	assert.Empty(t, fb.made)
	assert.Len(t, fb.puts, 4)
}

func TestPublish_Errors(t *testing.T) {
	t.Parallel()

	jsonPath, srsPath := writeArtifacts(t)

	_, err := newS3Publisher(&fakeBucket{}, "b", "r", "").Publish(context.Background(), " ", jsonPath)
	require.ErrorContains(t, err, "run_id is required")

	_, err = newS3Publisher(&fakeBucket{existsErr: errors.New("dns")}, "b", "r", "").Publish(context.Background(), "r", jsonPath)
	require.ErrorContains(t, err, "ensure bucket b: dns")

	fb := &fakeBucket{exists: true, putErrKey: "runs/r/adblock.srs"}
	objs, err := newS3Publisher(fb, "b", "r", "").Publish(context.Background(), "r", jsonPath, srsPath)
	require.ErrorContains(t, err, "put s3://b/runs/r/adblock.srs: access denied")
	assert.Len(t, objs, 3, "objects before the failure are reported")
}
