// Package pipeline moves ingestion jobs through their lifecycle: it claims a
// job, runs the statement through extraction, normalisation and category
// resolution, and commits the transactions together with the job's terminal
// status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/adapter"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/export"
	"github.com/dvloznov/ledger-ingest/internal/files"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of a Machine. Sink may be nil.
type Deps struct {
	Store      store.Store
	Adapters   *adapter.Registry
	Files      files.Fetcher
	Normalizer *normalize.Normalizer
	Sink       export.Sink
	Log        zerolog.Logger

	// DefaultCurrency applies when neither the record nor the account
	// carries one.
	DefaultCurrency string
	Now             func() time.Time
}

// Machine is the ingestion job state machine.
type Machine struct {
	store store.Store
	sink  export.Sink
	log   zerolog.Logger
	now   func() time.Time

	pipeline *Pipeline
}

// Result describes a completed run.
type Result struct {
	Job          *domain.IngestionJob
	Transactions []*domain.Transaction
	Rejected     []*domain.RowError
	// Inserted counts rows written by this run; rows committed by an earlier
	// attempt are not counted again.
	Inserted int
}

// NewMachine wires the standard five-step ingestion pipeline.
func NewMachine(d Deps) *Machine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sink == nil {
		d.Sink = export.NopSink{}
	}
	return &Machine{
		store: d.Store,
		sink:  d.Sink,
		log:   d.Log,
		now:   d.Now,
		pipeline: NewPipeline(
			&LoadAccountStep{Accounts: d.Store},
			&FetchSourceStep{Files: d.Files},
			&ExtractStep{Adapters: d.Adapters},
			&NormalizeStep{Normalizer: d.Normalizer},
			&CommitStep{Store: d.Store, DefaultCurrency: d.DefaultCurrency, Now: d.Now, Log: d.Log},
		),
	}
}

// Start claims job jobID for an attempt. A PENDING job, or a PROCESSING job
// whose previous attempt was not acknowledged, moves to PROCESSING with its
// attempt count incremented. Finished jobs yield domain.ErrJobTerminal and
// a lost race yields domain.ErrConflict.
func (m *Machine) Start(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, domain.ErrJobTerminal)
	}
	if !job.Status.CanTransitionTo(domain.JobStatusProcessing) {
		return nil, fmt.Errorf("job %s: %s to %s: %w", job.ID, job.Status, domain.JobStatusProcessing, domain.ErrInvalidTransition)
	}

	previous := job.Status
	now := m.now().UTC()
	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.StartedAt = &now
	if err := m.store.UpdateJob(ctx, job, previous); err != nil {
		return nil, fmt.Errorf("start job %s: %w", job.ID, err)
	}

	log := m.jobLogger(job)
	log.Info().
		Int("attempt", job.Attempts).
		Str("source_kind", string(job.SourceKind)).
		Msg("Started ingestion job")
	return job, nil
}

// Run processes a PROCESSING job. On success the transactions and the
// COMPLETED status are committed together and job is updated in place. On
// failure nothing is committed and the job is left for Fail or Retry.
func (m *Machine) Run(ctx context.Context, job *domain.IngestionJob) (*Result, error) {
	if job.Status.Terminal() {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, domain.ErrJobTerminal)
	}
	if job.Status != domain.JobStatusProcessing {
		return nil, fmt.Errorf("job %s is %s, not started: %w", job.ID, job.Status, domain.ErrInvalidTransition)
	}

	log := m.jobLogger(job)
	started := m.now()
	state := &PipelineState{Job: job}
	if err := m.pipeline.Execute(logger.WithContext(ctx, log), state); err != nil {
		return nil, err
	}
	*job = *state.Completed

	log.Info().
		Int("imported", len(state.Transactions)).
		Int("inserted", state.Inserted).
		Int("skipped", len(state.Rejected)).
		Dur("duration", m.now().Sub(started)).
		Msg("Ingestion job completed")

	if err := m.sink.Export(ctx, job, state.Transactions); err != nil {
		log.Error().Err(err).Msg("Failed to export transactions")
	}

	return &Result{
		Job:          job,
		Transactions: state.Transactions,
		Rejected:     state.Rejected,
		Inserted:     state.Inserted,
	}, nil
}

// Fail moves a PROCESSING job to FAILED and records cause. The write is not
// tied to ctx's cancellation so shutdown cannot strand the job.
func (m *Machine) Fail(ctx context.Context, job *domain.IngestionJob, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	failed := job.Clone()
	now := m.now().UTC()
	failed.Status = domain.JobStatusFailed
	failed.CompletedAt = &now
	failed.LastError = cause.Error()
	failed.ErrorDetails = domain.NewErrorDetails(cause)
	if err := m.store.UpdateJob(ctx, failed, job.Status); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	*job = *failed

	log := m.jobLogger(job)
	log.Error().
		Err(cause).
		Int("attempt", job.Attempts).
		Msg("Ingestion job failed")
	return nil
}

// Abandon fails job jobID without running it. Terminal jobs yield
// domain.ErrJobTerminal.
func (m *Machine) Abandon(ctx context.Context, jobID string, cause error) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", job.ID, job.Status, domain.ErrJobTerminal)
	}
	return m.Fail(ctx, job, cause)
}

// Retry records cause on a PROCESSING job that will be attempted again.
func (m *Machine) Retry(ctx context.Context, job *domain.IngestionJob, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	job.LastError = cause.Error()
	if err := m.store.UpdateJob(ctx, job, domain.JobStatusProcessing); err != nil {
		return fmt.Errorf("record retry of job %s: %w", job.ID, err)
	}

	log := m.jobLogger(job)
	log.Warn().
		Err(cause).
		Int("attempt", job.Attempts).
		Msg("Ingestion attempt failed, will retry")
	return nil
}

// Process runs jobID to a terminal state in one attempt: any failure marks
// the job FAILED. It serves synchronous callers that have no retry policy.
func (m *Machine) Process(ctx context.Context, jobID string) (*Result, error) {
	job, err := m.Start(ctx, jobID)
	if err != nil {
		return nil, err
	}
	res, err := m.Run(ctx, job)
	if err == nil {
		return res, nil
	}
	if ferr := m.Fail(ctx, job, err); ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return nil, err
}

func (m *Machine) jobLogger(job *domain.IngestionJob) zerolog.Logger {
	return logger.ForJob(m.log, job.ID, job.AccountID)
}
