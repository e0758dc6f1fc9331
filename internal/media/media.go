// Package media moves captured blobs off the device before a report is
// created, so the backend receives a fetchable URL instead of a local path.
package media

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonero-cloud/safeguard/internal/models"
)

// Backend names accepted by New.
const (
	BackendReference = "reference"
	BackendS3        = "s3"
	BackendMinio     = "minio"
)

// Store uploads a local capture and returns the URL to send as file_url.
type Store interface {
	Put(ctx context.Context, localURI string, kind models.ReportType) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend   string `json:"backend"`
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	PublicURL string `json:"public_url,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
}

// New builds the store named by cfg.Backend. An empty backend means
// Reference.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendReference:
		return Reference{}, nil
	case BackendS3:
		return NewS3Store(ctx, cfg.Bucket, cfg.Prefix, cfg.PublicURL)
	case BackendMinio:
		return NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}

// Reference sends the local URI unchanged; the backend is expected to accept
// a reference.
type Reference struct{}

func (Reference) Put(_ context.Context, localURI string, _ models.ReportType) (string, error) {
	return localURI, nil
}

// localPath turns a file:// URI into a filesystem path.
func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// objectKey names an uploaded blob: prefix/kind/yyyy/mm/dd/uuid.ext.
func objectKey(prefix string, kind models.ReportType, path string) string {
	now := time.Now().UTC()
	name := uuid.NewString() + strings.ToLower(filepath.Ext(path))
	key := fmt.Sprintf("%s/%04d/%02d/%02d/%s", kind, now.Year(), now.Month(), now.Day(), name)
	if prefix != "" {
		key = strings.Trim(prefix, "/") + "/" + key
	}
	return key
}

func contentType(kind models.ReportType, path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	if kind == models.ReportAudio {
		return "audio/mp4"
	}
	return "video/mp4"
}

// openBlob opens the capture and reports its size.
func openBlob(uri string) (*os.File, int64, error) {
	f, err := os.Open(localPath(uri))
	if err != nil {
		return nil, 0, fmt.Errorf("open capture: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat capture: %w", err)
	}
	return f, info.Size(), nil
}
