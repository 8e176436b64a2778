package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/rs/zerolog"
)

// Processor adapts a Machine to a queue consumer.
type Processor struct {
	machine *Machine
	log     zerolog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(machine *Machine, log zerolog.Logger) *Processor {
	return &Processor{machine: machine, log: log}
}

// Handle processes one delivery. Returning nil acknowledges it; errors
// wrapped with jobs.Permanent are dead-lettered without retry.
//
// A retryable failure on a non-final attempt leaves the job PROCESSING so
// the redelivery can claim it again. Permanent failures and the final
// attempt move the job to FAILED, as does a delivery past the attempt limit,
// which is failed without running.
func (p *Processor) Handle(ctx context.Context, msg *jobs.Message) error {
	payload, err := jobs.DecodePayload(msg.Body)
	if err != nil {
		p.log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping invalid job payload")
		return jobs.Permanent(err)
	}

	log := logger.ForJob(p.log, payload.JobID, payload.AccountID).With().
		Str("message_id", msg.ID).
		Int("delivery", msg.Attempt).
		Logger()
	ctx = logger.WithContext(ctx, log)

	if msg.Exhausted() {
		return p.abandon(ctx, log, payload.JobID, msg)
	}

	job, err := p.machine.Start(ctx, payload.JobID)
	switch {
	case errors.Is(err, domain.ErrJobTerminal), errors.Is(err, domain.ErrConflict):
		log.Info().Err(err).Msg("Skipping delivery for a job that is finished or claimed elsewhere")
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return jobs.Permanent(err)
	case err != nil:
		return err
	}

	if err := matchPayload(payload, job); err != nil {
		return p.fail(ctx, log, job, err)
	}
	// Duplicate messages share the job's attempt budget.
	if msg.MaxAttempts > 0 && job.Attempts > msg.MaxAttempts {
		return p.fail(ctx, log, job, fmt.Errorf("job %s started %d times, limit %d: %w",
			job.ID, job.Attempts, msg.MaxAttempts, domain.ErrAttemptsExhausted))
	}

	_, err = p.machine.Run(ctx, job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConflict):
		log.Warn().Err(err).Msg("Job finished by another delivery")
		return nil
	case domain.IsPermanent(err) || msg.Final():
		return p.fail(ctx, log, job, err)
	}

	if rerr := p.machine.Retry(ctx, job, err); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to record retry")
	}
	return err
}

func (p *Processor) fail(ctx context.Context, log zerolog.Logger, job *domain.IngestionJob, cause error) error {
	if err := p.machine.Fail(ctx, job, cause); err != nil {
		log.Error().Err(err).Msg("Failed to mark job as failed")
		return jobs.Permanent(errors.Join(cause, err))
	}
	return jobs.Permanent(cause)
}

// abandon fails a job whose earlier deliveries never reported back, so a
// job that keeps crashing its worker still ends FAILED.
func (p *Processor) abandon(ctx context.Context, log zerolog.Logger, jobID string, msg *jobs.Message) error {
	cause := fmt.Errorf("job %s delivered %d times, limit %d: %w",
		jobID, msg.Attempt, msg.MaxAttempts, domain.ErrAttemptsExhausted)
	err := p.machine.Abandon(ctx, jobID, cause)
	switch {
	case err == nil:
		log.Warn().Err(cause).Msg("Abandoned job after unsettled deliveries")
		return jobs.Permanent(cause)
	case errors.Is(err, domain.ErrJobTerminal), errors.Is(err, domain.ErrConflict):
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return jobs.Permanent(err)
	default:
		log.Error().Err(err).Msg("Failed to abandon job")
		return jobs.Permanent(errors.Join(cause, err))
	}
}

// matchPayload rejects a message whose fields disagree with the stored job.
func matchPayload(p jobs.Payload, job *domain.IngestionJob) error {
	switch {
	case p.AccountID != job.AccountID:
		return fmt.Errorf("%w: account %s does not match job account %s", domain.ErrInvalidPayload, p.AccountID, job.AccountID)
	case p.FileURL != job.FileURL:
		return fmt.Errorf("%w: file %s does not match job file %s", domain.ErrInvalidPayload, p.FileURL, job.FileURL)
	case p.SourceKind != job.SourceKind:
		return fmt.Errorf("%w: source kind %s does not match job source kind %s", domain.ErrInvalidPayload, p.SourceKind, job.SourceKind)
	}
	return nil
}
