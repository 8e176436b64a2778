package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockObjects is an in-memory ObjectStorage.
type mockObjects struct {
	objects map[string][]byte
	ReadErr error
}

func newMockObjects() *mockObjects {
	return &mockObjects{objects: make(map[string][]byte)}
}

func (m *mockObjects) ReadObject(_ context.Context, bucket, object string, limit int64) ([]byte, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	data, ok := m.objects[bucket+"/"+object]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, domain.ErrSourceTooLarge
	}
	return data, nil
}

func (m *mockObjects) WriteObject(_ context.Context, bucket, object, _ string, data []byte) error {
	m.objects[bucket+"/"+object] = data
	return nil
}

func TestSplitGCSURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		object  string
		wantErr bool
	}{
		{"gs://bucket/path/to/file.pdf", "bucket", "path/to/file.pdf", false},
		{"gs://bucket/file.csv", "bucket", "file.csv", false},
		{"gs://bucket", "", "", true},
		{"gs://bucket/", "", "", true},
		{"s3://bucket/file", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := SplitGCSURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.object, object)
		})
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "file.pdf", Filename("gs://bucket/folder/file.pdf"))
	assert.Equal(t, "jan.csv", Filename("/tmp/uploads/jan.csv"))
	assert.Equal(t, "jan.csv", Filename("file:///tmp/jan.csv"))
}

func TestResolver_Local(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "statement.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,amount\n"), 0600))

	r := NewResolver(nil, 1024)
	ctx := context.Background()

	data, err := r.Fetch(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "date,amount\n", string(data))

	data, err = r.Fetch(ctx, "file://"+path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = r.Fetch(ctx, filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)

	_, err = r.Fetch(ctx, dir)
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)

	_, err = NewResolver(nil, 4).Fetch(ctx, path)
	assert.ErrorIs(t, err, domain.ErrSourceTooLarge)
}

func TestResolver_GCS(t *testing.T) {
	objects := newMockObjects()
	objects.objects["bucket/statements/jan.pdf"] = []byte("%PDF-1.4")
	ctx := context.Background()

	data, err := NewResolver(objects, 0).Fetch(ctx, "gs://bucket/statements/jan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	_, err = NewResolver(objects, 0).Fetch(ctx, "gs://bucket/missing.pdf")
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)

	_, err = NewResolver(nil, 0).Fetch(ctx, "gs://bucket/statements/jan.pdf")
	assert.ErrorIs(t, err, domain.ErrUnsupportedSource)
}

func TestLocalSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s := NewLocalSaver(dir)

	ref, err := s.Save(context.Background(), "../../etc/job-1-statement.csv", "text/csv", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "job-1-statement.csv", filepath.Base(ref))
	assert.True(t, filepath.IsAbs(ref))

	data, err := NewResolver(nil, 0).Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestGCSSaver(t *testing.T) {
	objects := newMockObjects()
	s := NewGCSSaver(objects, "bucket", "/uploads/")

	ref, err := s.Save(context.Background(), "job-1-jan.pdf", "application/pdf", []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/uploads/job-1-jan.pdf", ref)
	assert.Equal(t, []byte("pdf"), objects.objects["bucket/uploads/job-1-jan.pdf"])
}
