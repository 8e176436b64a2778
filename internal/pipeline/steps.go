package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/adapter"
	"github.com/dvloznov/ledger-ingest/internal/category"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/files"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Job     *domain.IngestionJob
	Account *domain.Account

	SourceName string
	Data       []byte

	Records      []domain.CandidateRecord
	Transactions []*domain.Transaction
	Rejected     []*domain.RowError

	// Completed is the job as committed by CommitStep.
	Completed *domain.IngestionJob
	Inserted  int
}

// Step 1: LoadAccountStep checks the target account exists.
type LoadAccountStep struct {
	Accounts accountGetter
}

type accountGetter interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

func (s *LoadAccountStep) Execute(ctx context.Context, state *PipelineState) error {
	account, err := loadAccount(ctx, s.Accounts, state.Job.AccountID)
	if err != nil {
		return err
	}
	state.Account = account
	return nil
}

func loadAccount(ctx context.Context, accounts accountGetter, id string) (*domain.Account, error) {
	account, err := accounts.GetAccount(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	return account, nil
}

// Step 2: FetchSourceStep reads the file the job references.
type FetchSourceStep struct {
	Files files.Fetcher
}

func (s *FetchSourceStep) Execute(ctx context.Context, state *PipelineState) error {
	data, err := s.Files.Fetch(ctx, state.Job.FileURL)
	if err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}
	state.SourceName = files.Filename(state.Job.FileURL)
	state.Data = data
	return nil
}

// Step 3: ExtractStep runs the adapter registered for the job's source kind.
type ExtractStep struct {
	Adapters *adapter.Registry
}

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	a, err := s.Adapters.Get(state.Job.SourceKind)
	if err != nil {
		return err
	}
	records, err := a.Extract(ctx, adapter.Source{Name: state.SourceName, Data: state.Data})
	if err != nil {
		return err
	}
	state.Records = records
	return nil
}

// Step 4: NormalizeStep converts candidate records into transactions.
// Invalid rows are dropped here and counted in the summary.
type NormalizeStep struct {
	Normalizer *normalize.Normalizer
}

func (s *NormalizeStep) Execute(_ context.Context, state *PipelineState) error {
	res := s.Normalizer.NormalizeAll(state.Records)
	state.Transactions = res.Transactions
	state.Rejected = res.Rejected
	return nil
}

// Step 5: CommitStep resolves categories, inserts the transactions and marks
// the job COMPLETED in one store transaction.
type CommitStep struct {
	Store           store.Store
	DefaultCurrency string
	Now             func() time.Time
	Log             zerolog.Logger
}

func (s *CommitStep) Execute(ctx context.Context, state *PipelineState) error {
	now := s.Now().UTC()
	done := state.Job.Clone()

	err := s.Store.WithinTx(ctx, func(ctx context.Context, q store.Queries) error {
		account, err := loadAccount(ctx, q, state.Job.AccountID)
		if err != nil {
			return err
		}

		resolver := category.NewResolver(q, account.UserID, s.Log)
		for _, tx := range state.Transactions {
			cat, err := resolver.Resolve(ctx, tx.CategoryLabel, tx.Direction)
			if err != nil {
				return fmt.Errorf("row %d: %w", tx.Row, err)
			}
			tx.ID = TransactionID(state.Job.ID, tx.Row)
			tx.AccountID = account.ID
			tx.JobID = state.Job.ID
			tx.CategoryID = cat.ID
			tx.CategoryLabel = cat.Name
			tx.SourceFile = state.SourceName
			tx.Currency = s.currency(tx.Currency, account.Currency)
			tx.CreatedAt = now
		}

		inserted, err := q.InsertTransactions(ctx, state.Transactions)
		if err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		state.Inserted = inserted

		summary := Summary(len(state.Transactions), len(state.Rejected))
		done.Status = domain.JobStatusCompleted
		done.CompletedAt = &now
		done.ResultSummary = &summary
		done.LastError = ""
		done.ErrorDetails = nil
		if err := q.UpdateJob(ctx, done, domain.JobStatusProcessing); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	state.Completed = done
	return nil
}

func (s *CommitStep) currency(record, account string) string {
	if record != "" {
		return record
	}
	if account != "" {
		return strings.ToUpper(account)
	}
	return s.DefaultCurrency
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// transactionNamespace scopes the name-based transaction ids.
var transactionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ledger-ingest/transactions"))

// TransactionID returns the stable id of the transaction produced by row of
// job. Re-running a job yields the same ids, so stores can skip duplicates.
func TransactionID(jobID string, row int) string {
	return uuid.NewSHA1(transactionNamespace, []byte(fmt.Sprintf("%s:%d", jobID, row))).String()
}

// Summary is the resultSummary text of a completed job.
func Summary(imported, skipped int) string {
	s := fmt.Sprintf("Successfully imported %d %s.", imported, plural(imported, "transaction"))
	if skipped > 0 {
		s += fmt.Sprintf(" Skipped %d invalid %s.", skipped, plural(skipped, "row"))
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
