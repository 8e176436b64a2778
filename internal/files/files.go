// Package files reads source files referenced by ingestion jobs and stores
// uploaded files for intake. References are local paths, file:// URLs or
// gs://bucket/object URIs.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// Fetcher loads the bytes behind a file reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Saver stores uploaded bytes and returns a reference a Fetcher can read.
type Saver interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Resolver fetches local and GCS references. Missing files wrap
// domain.ErrSourceNotFound and oversized ones domain.ErrSourceTooLarge.
type Resolver struct {
	objects  ObjectStorage
	maxBytes int64
}

// NewResolver creates a Resolver. objects may be nil when no gs://
// references are expected; maxBytes <= 0 disables the size check.
func NewResolver(objects ObjectStorage, maxBytes int64) *Resolver {
	return &Resolver{objects: objects, maxBytes: maxBytes}
}

func (r *Resolver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "gs://") {
		bucket, object, err := SplitGCSURI(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSourceNotFound, err)
		}
		if r.objects == nil {
			return nil, fmt.Errorf("%w: no object storage configured for %s", domain.ErrUnsupportedSource, ref)
		}
		return r.objects.ReadObject(ctx, bucket, object, r.maxBytes)
	}
	return r.fetchLocal(strings.TrimPrefix(ref, "file://"))
}

func (r *Resolver) fetchLocal(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file reference", domain.ErrSourceNotFound)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrSourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open file %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, domain.ErrSourceNotFound)
	}
	if r.maxBytes > 0 && info.Size() > r.maxBytes {
		return nil, fmt.Errorf("%s is %d bytes: %w", path, info.Size(), domain.ErrSourceTooLarge)
	}
	return readLimited(f, r.maxBytes)
}

// readLimited reads all of rd, failing once more than limit bytes arrive.
func readLimited(rd io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(rd)
	}
	data, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("more than %d bytes: %w", limit, domain.ErrSourceTooLarge)
	}
	return data, nil
}

// LocalSaver writes uploads under a directory.
type LocalSaver struct {
	dir string
}

// NewLocalSaver creates a LocalSaver rooted at dir.
func NewLocalSaver(dir string) *LocalSaver {
	return &LocalSaver{dir: dir}
}

func (s *LocalSaver) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	path := filepath.Join(s.dir, safeName(name))
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write upload %q: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// GCSSaver uploads files to a bucket under a prefix.
type GCSSaver struct {
	objects ObjectStorage
	bucket  string
	prefix  string
}

// NewGCSSaver creates a GCSSaver.
func NewGCSSaver(objects ObjectStorage, bucket, prefix string) *GCSSaver {
	return &GCSSaver{objects: objects, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *GCSSaver) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	object := safeName(name)
	if s.prefix != "" {
		object = s.prefix + "/" + object
	}
	if err := s.objects.WriteObject(ctx, s.bucket, object, contentType, data); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

// safeName strips directories from a client-supplied file name.
func safeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return "upload"
	}
	return base
}

var (
	_ Fetcher = (*Resolver)(nil)
	_ Saver   = (*LocalSaver)(nil)
	_ Saver   = (*GCSSaver)(nil)
)
