package intake

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/files"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/dvloznov/ledger-ingest/internal/store/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPublisher records published payloads.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, p jobs.Payload) error
	Published   []jobs.Payload
}

func (m *MockPublisher) Publish(ctx context.Context, p jobs.Payload) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, p); err != nil {
			return err
		}
	}
	m.Published = append(m.Published, p)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func setup(t *testing.T) (*Service, *memory.Store, *MockPublisher, string) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.CreateAccount(context.Background(), &domain.Account{
		ID:       "acct-1",
		UserID:   "user-1",
		Currency: "USD",
	}))
	dir := t.TempDir()
	pub := &MockPublisher{}
	svc := NewService(st, files.NewLocalSaver(dir), pub, Options{
		MaxFileBytes: 1024,
		Now:          func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}, zerolog.Nop())
	return svc, st, pub, dir
}

func TestSubmit(t *testing.T) {
	svc, st, pub, dir := setup(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, Upload{
		AccountID:   "acct-1",
		Filename:    "january.csv",
		ContentType: "text/csv",
		Data:        []byte("Date,Amount\n2024-01-01,5\n"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.SourceKindCSV, job.SourceKind)
	assert.Equal(t, dir, filepath.Dir(job.FileURL))
	assert.True(t, strings.HasSuffix(job.FileURL, job.ID+"-january.csv"))

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.FileURL, stored.FileURL)

	require.Len(t, pub.Published, 1)
	assert.Equal(t, jobs.NewPayload(job), pub.Published[0])

	data, err := files.NewResolver(nil, 0).Fetch(ctx, job.FileURL)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2024-01-01")
}

func TestSubmit_SourceKind(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, Upload{AccountID: "acct-1", Filename: "statement", ContentType: "application/pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceKindPDF, job.SourceKind)

	job, err = svc.Submit(ctx, Upload{AccountID: "acct-1", Filename: "export.txt", SourceKind: "CSV", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceKindCSV, job.SourceKind)

	_, err = svc.Submit(ctx, Upload{AccountID: "acct-1", Filename: "notes.txt", Data: []byte("x")})
	assert.ErrorIs(t, err, domain.ErrUnsupportedSource)
}

func TestSubmit_Rejections(t *testing.T) {
	svc, st, pub, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		upload Upload
		want   error
	}{
		{"missing account id", Upload{Filename: "a.csv", Data: []byte("x")}, ErrInvalidRequest},
		{"empty file", Upload{AccountID: "acct-1", Filename: "a.csv", Data: []byte{}}, ErrInvalidRequest},
		{"bad source kind", Upload{AccountID: "acct-1", Filename: "a.csv", SourceKind: "xlsx", Data: []byte("x")}, ErrInvalidRequest},
		{"unknown account", Upload{AccountID: "acct-2", Filename: "a.csv", Data: []byte("x")}, domain.ErrAccountNotFound},
		{"too large", Upload{AccountID: "acct-1", Filename: "a.csv", Data: make([]byte, 2048)}, domain.ErrSourceTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tt.upload)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	list, err := st.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, pub.Published)
}

func TestSubmit_PublishFailureMarksJobFailed(t *testing.T) {
	svc, st, pub, _ := setup(t)
	pub.PublishFunc = func(context.Context, jobs.Payload) error { return errors.New("queue closed") }
	ctx := context.Background()

	_, err := svc.Submit(ctx, Upload{AccountID: "acct-1", Filename: "a.csv", Data: []byte("x")})
	require.ErrorContains(t, err, "queue closed")

	list, err := st.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.JobStatusFailed, list[0].Status)
	require.NotNil(t, list[0].ErrorDetails)
	assert.Contains(t, list[0].ErrorDetails.Message, "queue closed")
}

func TestSubmitReference(t *testing.T) {
	svc, _, pub, _ := setup(t)

	job, err := svc.SubmitReference(context.Background(), Reference{AccountID: "acct-1", FileURL: "gs://bucket/statements/feb.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/statements/feb.pdf", job.FileURL)
	assert.Equal(t, domain.SourceKindPDF, job.SourceKind)
	require.Len(t, pub.Published, 1)

	_, err = svc.SubmitReference(context.Background(), Reference{AccountID: "acct-1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
