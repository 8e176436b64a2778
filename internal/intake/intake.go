// Package intake accepts statement files for ingestion: it stores the file,
// records a PENDING job and hands the job to the queue.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/files"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidRequest wraps submission validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Upload is a file submitted for ingestion.
type Upload struct {
	AccountID   string `validate:"required,max=128"`
	Filename    string `validate:"required,max=255"`
	ContentType string
	// SourceKind is optional; it is inferred from Filename and
	// ContentType when empty.
	SourceKind string `validate:"omitempty,oneof=csv pdf CSV PDF"`
	Data       []byte `validate:"required,min=1"`
}

// Reference is an already stored file submitted for ingestion.
type Reference struct {
	AccountID  string `validate:"required,max=128"`
	FileURL    string `validate:"required"`
	SourceKind string `validate:"omitempty,oneof=csv pdf CSV PDF"`
}

// Options configures a Service.
type Options struct {
	// MaxFileBytes rejects larger uploads; zero disables the check.
	MaxFileBytes int64
	Now          func() time.Time
}

// Service submits ingestion jobs.
type Service struct {
	store     store.Queries
	saver     files.Saver
	publisher jobs.Publisher
	opts      Options
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewService creates a Service. saver may be nil when only references are
// submitted.
func NewService(st store.Queries, saver files.Saver, publisher jobs.Publisher, opts Options, log zerolog.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     st,
		saver:     saver,
		publisher: publisher,
		opts:      opts,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log,
	}
}

// Submit stores an uploaded file and enqueues a job for it.
func (s *Service) Submit(ctx context.Context, u Upload) (*domain.IngestionJob, error) {
	if err := s.validate.Struct(u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if s.opts.MaxFileBytes > 0 && int64(len(u.Data)) > s.opts.MaxFileBytes {
		return nil, fmt.Errorf("%s is %d bytes, limit %d: %w", u.Filename, len(u.Data), s.opts.MaxFileBytes, domain.ErrSourceTooLarge)
	}
	if s.saver == nil {
		return nil, fmt.Errorf("%w: uploads are not configured", domain.ErrUnsupportedSource)
	}

	kind, err := sourceKind(u.SourceKind, u.Filename, u.ContentType)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccount(ctx, u.AccountID); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	ref, err := s.saver.Save(ctx, jobID+"-"+files.Filename(u.Filename), u.ContentType, u.Data)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	s.log.Debug().
		Str("job_id", jobID).
		Str("file_url", ref).
		Int("bytes", len(u.Data)).
		Msg("Stored upload")

	return s.enqueue(ctx, jobID, ref, u.AccountID, kind)
}

// SubmitReference enqueues a job for a file that is already stored.
func (s *Service) SubmitReference(ctx context.Context, r Reference) (*domain.IngestionJob, error) {
	if err := s.validate.Struct(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	kind, err := sourceKind(r.SourceKind, files.Filename(r.FileURL), "")
	if err != nil {
		return nil, err
	}
	if err := s.checkAccount(ctx, r.AccountID); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, uuid.New().String(), r.FileURL, r.AccountID, kind)
}

func (s *Service) checkAccount(ctx context.Context, accountID string) error {
	_, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	return nil
}

// enqueue records the PENDING job and publishes it. A job whose message
// cannot be published is marked FAILED so it does not sit PENDING forever.
func (s *Service) enqueue(ctx context.Context, jobID, ref, accountID string, kind domain.SourceKind) (*domain.IngestionJob, error) {
	job := &domain.IngestionJob{
		ID:         jobID,
		FileURL:    ref,
		AccountID:  accountID,
		SourceKind: kind,
		Status:     domain.JobStatusPending,
		CreatedAt:  s.opts.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	log := s.log.With().Str("job_id", job.ID).Str("account_id", accountID).Logger()

	if err := s.publisher.Publish(ctx, jobs.NewPayload(job)); err != nil {
		cause := fmt.Errorf("enqueue job: %w", err)
		now := s.opts.Now().UTC()
		job.Status = domain.JobStatusFailed
		job.CompletedAt = &now
		job.LastError = cause.Error()
		job.ErrorDetails = domain.NewErrorDetails(cause)
		if uerr := s.store.UpdateJob(context.WithoutCancel(ctx), job, domain.JobStatusPending); uerr != nil {
			log.Error().Err(uerr).Msg("Failed to mark unpublished job as failed")
		}
		return nil, cause
	}

	log.Info().
		Str("file_url", ref).
		Str("source_kind", string(kind)).
		Msg("Ingestion job submitted")
	return job, nil
}

func sourceKind(explicit, filename, contentType string) (domain.SourceKind, error) {
	if explicit != "" {
		return domain.ParseSourceKind(explicit)
	}
	return domain.DetectSourceKind(filename, contentType)
}
