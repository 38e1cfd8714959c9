package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.types = map[string]string{}
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

type fakeCloudFront struct {
	inputs []*cloudfront.CreateInvalidationInput
}

func (f *fakeCloudFront) CreateInvalidation(_ context.Context, in *cloudfront.CreateInvalidationInput, _ ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudfront.CreateInvalidationOutput{}, nil
}

type recordingInvalidator struct {
	paths []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, paths []string) error {
	r.paths = append(r.paths, paths...)
	return nil
}

func TestFileUploaderCreatesDirectories(t *testing.T) {
	name := filepath.Join(t.TempDir(), "nested", "out", "card-001.png")
	u := &FileUploader{}
	require.NoError(t, u.Upload(context.Background(), UploadParams{Name: name, Data: []byte("png")}))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestS3Uploader(t *testing.T) {
	client := &fakeS3{}
	u := &S3Uploader{Client: client, Bucket: "decks", Prefix: "biology"}

	require.NoError(t, u.Upload(context.Background(), UploadParams{Name: "card-001.png", Data: []byte("png"), ContentType: "image/png"}))
	assert.Equal(t, []byte("png"), client.objects["biology/card-001.png"])
	assert.Equal(t, "image/png", client.types["biology/card-001.png"])

	client.err = errors.New("access denied")
	assert.ErrorContains(t, u.Upload(context.Background(), UploadParams{Name: "x.png"}), "access denied")
}

func TestCloudFrontInvalidator(t *testing.T) {
	client := &fakeCloudFront{}
	inv := &CloudFrontInvalidator{
		Client:       client,
		Distribution: "E123",
		now:          func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}

	require.NoError(t, inv.Invalidate(context.Background(), nil))
	assert.Empty(t, client.inputs)

	require.NoError(t, inv.Invalidate(context.Background(), []string{"/a.png", "/b.png"}))
	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "E123", aws.ToString(in.DistributionId))
	assert.Equal(t, "20260102030405.000", aws.ToString(in.InvalidationBatch.CallerReference))
	assert.Equal(t, int32(2), aws.ToInt32(in.InvalidationBatch.Paths.Quantity))
	assert.Equal(t, []string{"/a.png", "/b.png"}, in.InvalidationBatch.Paths.Items)
}

func TestPublisher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card-001.png"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".illustrate.lock"), nil, 0o644))

	client := &fakeS3{}
	inv := &recordingInvalidator{}
	p := NewPublisher(&S3Uploader{Client: client, Bucket: "decks", Prefix: "run"}, inv)

	keys, err := p.Publish(context.Background(), dir)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"run/card-001.png", "run/index.html"}, keys)
	assert.Len(t, client.objects, 2)
	assert.Equal(t, "image/png", client.types["run/card-001.png"])
	assert.ElementsMatch(t, []string{"/run/card-001.png", "/run/index.html"}, inv.paths)
}

func TestPublisherUploadFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card-001.png"), []byte("one"), 0o644))

	inv := &recordingInvalidator{}
	p := NewPublisher(&S3Uploader{Client: &fakeS3{err: errors.New("boom")}, Bucket: "decks"}, inv)

	_, err := p.Publish(context.Background(), dir)
	assert.Error(t, err)
	assert.Empty(t, inv.paths)
}
