package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"google.golang.org/api/option"
)

// ObjectStorage reads and writes whole objects in a bucket.
type ObjectStorage interface {
	// ReadObject returns at most limit bytes of the object; a larger
	// object yields domain.ErrSourceTooLarge.
	ReadObject(ctx context.Context, bucket, object string, limit int64) ([]byte, error)
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// GCSClient is the ObjectStorage implementation backed by Google Cloud
// Storage.
type GCSClient struct {
	client *storage.Client
}

// NewGCSClient creates a storage client. An empty credentialsFile uses
// Application Default Credentials.
func NewGCSClient(ctx context.Context, credentialsFile string) (*GCSClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSClient{client: client}, nil
}

// Close releases the underlying client.
func (c *GCSClient) Close() error {
	return c.client.Close()
}

func (c *GCSClient) ReadObject(ctx context.Context, bucket, object string, limit int64) ([]byte, error) {
	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", bucket, object, domain.ErrSourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	if limit > 0 && rc.Attrs.Size > limit {
		return nil, fmt.Errorf("gs://%s/%s is %d bytes: %w", bucket, object, rc.Attrs.Size, domain.ErrSourceTooLarge)
	}
	return readLimited(rc, limit)
}

func (c *GCSClient) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}
	// Close finalises the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// SplitGCSURI splits gs://bucket/path/to/object into bucket and object.
func SplitGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Filename returns the base name of a file reference.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func Filename(ref string) string {
	if _, object, err := SplitGCSURI(ref); err == nil {
		return path.Base(object)
	}
	ref = strings.TrimPrefix(ref, "file://")
	return path.Base(strings.ReplaceAll(ref, "\\", "/"))
}

var _ ObjectStorage = (*GCSClient)(nil)
