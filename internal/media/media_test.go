package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"

	"github.com/tonero-cloud/safeguard/internal/models"
)

// MockS3Client implements S3ClientAPI
type MockS3Client struct {
	Objects      map[string][]byte
	ContentTypes map[string]string
	Err          error
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Objects == nil {
		m.Objects = make(map[string][]byte)
		m.ContentTypes = make(map[string]string)
	}
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(params.Body)
	m.Objects[*params.Key] = buf.Bytes()
	m.ContentTypes[*params.Key] = *params.ContentType
	return &s3.PutObjectOutput{}, nil
}

type mockMinio struct {
	buckets map[string]bool
	objects map[string][]byte
}

func (m *mockMinio) BucketExists(_ context.Context, bucket string) (bool, error) {
	return m.buckets[bucket], nil
}

func (m *mockMinio) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	m.buckets[bucket] = true
	return nil
}

func (m *mockMinio) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	m.objects[bucket+"/"+object] = data
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func writeCapture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return "file://" + path
}

func TestReference(t *testing.T) {
	url, err := Reference{}.Put(context.Background(), "file:///sdcard/a.mp4", models.ReportVideo)
	if err != nil || url != "file:///sdcard/a.mp4" {
		t.Errorf("Put = %q, %v", url, err)
	}
}

func TestS3Store(t *testing.T) {
	mockClient := &MockS3Client{}
	store := &S3Store{Client: mockClient, Bucket: "reports", Prefix: "safeguard", PublicURL: "https://cdn.example.com/"}

	uri := writeCapture(t, "clip.mp4", "video-bytes")
	url, err := store.Put(context.Background(), uri, models.ReportVideo)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.example.com/safeguard/video/") || !strings.HasSuffix(url, ".mp4") {
		t.Errorf("Unexpected url %q", url)
	}

	key := strings.TrimPrefix(url, "https://cdn.example.com/")
	if string(mockClient.Objects[key]) != "video-bytes" {
		t.Error("Content not saved to mock")
	}
	if ct := mockClient.ContentTypes[key]; ct != "video/mp4" {
		t.Errorf("Expected video/mp4 content type, got %q", ct)
	}
}

func TestS3StoreErrors(t *testing.T) {
	store := &S3Store{Client: &MockS3Client{Err: errors.New("access denied")}, Bucket: "reports"}

	if _, err := store.Put(context.Background(), "file:///does/not/exist.m4a", models.ReportAudio); err == nil {
		t.Error("Expected error for missing capture")
	}
	uri := writeCapture(t, "note.m4a", "audio")
	if _, err := store.Put(context.Background(), uri, models.ReportAudio); err == nil {
		t.Error("Expected error when S3 rejects the upload")
	}
}

func TestMinioStore(t *testing.T) {
	mc := &mockMinio{buckets: map[string]bool{}, objects: map[string][]byte{}}
	store := &MinioStore{Client: mc, Bucket: "images", PublicURL: "http://localhost:9000/images"}

	if err := store.ensureBucket(context.Background()); err != nil {
		t.Fatalf("ensureBucket failed: %v", err)
	}
	if !mc.buckets["images"] {
		t.Fatal("Bucket was not created")
	}

	uri := writeCapture(t, "note.m4a", "audio-bytes")
	url, err := store.Put(context.Background(), uri, models.ReportAudio)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	key := strings.TrimPrefix(url, "http://localhost:9000/images/")
	if !strings.HasPrefix(key, "audio/") {
		t.Errorf("Unexpected object key %q", key)
	}
	if string(mc.objects["images/"+key]) != "audio-bytes" {
		t.Error("Content not saved to mock")
	}
}

func TestNewBackends(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(Reference); !ok {
		t.Errorf("Expected Reference for empty backend, got %T", s)
	}
	if _, err := New(ctx, Config{Backend: "ftp"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
	if _, err := New(ctx, Config{Backend: BackendMinio}); err == nil {
		t.Error("Expected error for minio without endpoint")
	}
}
