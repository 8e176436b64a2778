// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) store.Store

// Run executes the shared suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Accounts", testAccounts},
		{"EnsureCategoryIsCaseInsensitive", testEnsureCategory},
		{"InsertTransactionsSkipsDuplicates", testInsertTransactions},
		{"WithinTxRollsBack", testWithinTxRollback},
		{"WithinTxCommits", testWithinTxCommit},
		{"UpdateJobIsConditional", testUpdateJob},
		{"ListJobsFilters", testListJobs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// SeedAccount creates an account owned by user-1.
func SeedAccount(t *testing.T, q store.Queries, id string) *domain.Account {
	t.Helper()
	a := &domain.Account{
		ID:        id,
		UserID:    "user-1",
		Name:      "Checking",
		Currency:  "USD",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, q.CreateAccount(context.Background(), a))
	return a
}

func newCategory(name string, p domain.Polarity) *domain.Category {
	color, icon := domain.CategoryStyle(p)
	return &domain.Category{
		ID:        uuid.NewString(),
		UserID:    "user-1",
		Name:      name,
		Polarity:  p,
		Color:     color,
		Icon:      icon,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newJob(id, accountID string, created time.Time) *domain.IngestionJob {
	return &domain.IngestionJob{
		ID:         id,
		FileURL:    "uploads/" + id + ".csv",
		AccountID:  accountID,
		SourceKind: domain.SourceKindCSV,
		Status:     domain.JobStatusPending,
		CreatedAt:  created,
	}
}

func newTransaction(id, accountID, jobID, categoryID string, day int, amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		AccountID:   accountID,
		JobID:       jobID,
		Date:        time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString(amount),
		Direction:   domain.DirectionExpense,
		Currency:    "USD",
		Description: fmt.Sprintf("Purchase %d", day),
		CategoryID:  categoryID,
		SourceFile:  "statement.csv",
		Status:      domain.TransactionStatusCompleted,
		CreatedAt:   time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acct-1")

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "USD", got.Currency)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testEnsureCategory(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.EnsureCategory(ctx, newCategory("Groceries", domain.PolarityExpense))
	require.NoError(t, err)

	second, err := s.EnsureCategory(ctx, newCategory("GROCERIES", domain.PolarityExpense))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Groceries", second.Name)

	income, err := s.EnsureCategory(ctx, newCategory("groceries", domain.PolarityIncome))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, income.ID)

	found, err := s.FindCategory(ctx, "user-1", "gRoCeRiEs", domain.PolarityExpense)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, "#EF4444", found.Color)

	_, err = s.FindCategory(ctx, "user-2", "groceries", domain.PolarityExpense)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testInsertTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acct-1")
	require.NoError(t, s.CreateJob(ctx, newJob("job-1", "acct-1", time.Now().UTC())))
	cat, err := s.EnsureCategory(ctx, newCategory("Food", domain.PolarityExpense))
	require.NoError(t, err)

	txs := []*domain.Transaction{
		newTransaction("tx-2", "acct-1", "job-1", cat.ID, 2, "12.50"),
		newTransaction("tx-1", "acct-1", "job-1", cat.ID, 1, "3660"),
	}
	n, err := s.InsertTransactions(ctx, txs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.InsertTransactions(ctx, txs)
	require.NoError(t, err)
	assert.Zero(t, n)

	listed, err := s.ListTransactions(ctx, store.TransactionFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "tx-1", listed[0].ID)
	assert.True(t, decimal.RequireFromString("3660").Equal(listed[0].Amount))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), listed[0].Date.UTC())
	assert.Equal(t, domain.DirectionExpense, listed[0].Direction)
	assert.Equal(t, "job-1", listed[1].JobID)

	byJob, err := s.ListTransactions(ctx, store.TransactionFilter{JobID: "other"})
	require.NoError(t, err)
	assert.Empty(t, byJob)
}

func testWithinTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acct-1")
	require.NoError(t, s.CreateJob(ctx, newJob("job-1", "acct-1", time.Now().UTC())))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, q store.Queries) error {
		cat, err := q.EnsureCategory(ctx, newCategory("Rent", domain.PolarityExpense))
		if err != nil {
			return err
		}
		if _, err := q.InsertTransactions(ctx, []*domain.Transaction{
			newTransaction("tx-1", "acct-1", "job-1", cat.ID, 1, "900"),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	listed, err := s.ListTransactions(ctx, store.TransactionFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = s.FindCategory(ctx, "user-1", "rent", domain.PolarityExpense)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testWithinTxCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acct-1")
	job := newJob("job-1", "acct-1", time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.WithinTx(ctx, func(ctx context.Context, q store.Queries) error {
		cat, err := q.EnsureCategory(ctx, newCategory("Rent", domain.PolarityExpense))
		if err != nil {
			return err
		}
		if _, err := q.InsertTransactions(ctx, []*domain.Transaction{
			newTransaction("tx-1", "acct-1", "job-1", cat.ID, 1, "900"),
		}); err != nil {
			return err
		}
		job.Status = domain.JobStatusProcessing
		return q.UpdateJob(ctx, job, domain.JobStatusPending)
	})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	listed, err := s.ListTransactions(ctx, store.TransactionFilter{JobID: "job-1"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func testUpdateJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acct-1")
	job := newJob("job-1", "acct-1", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.CreateJob(ctx, job)
	assert.Error(t, err)

	started := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	job.Status = domain.JobStatusProcessing
	job.StartedAt = &started
	job.Attempts = 1
	require.NoError(t, s.UpdateJob(ctx, job, domain.JobStatusPending))

	// A second claim from PENDING loses.
	err = s.UpdateJob(ctx, job, domain.JobStatusPending)
	assert.ErrorIs(t, err, domain.ErrConflict)

	completed := started.Add(time.Minute)
	summary := "Successfully imported 2 transactions."
	job.Status = domain.JobStatusFailed
	job.CompletedAt = &completed
	job.ResultSummary = &summary
	job.LastError = "boom"
	job.ErrorDetails = &domain.ErrorDetails{Message: "boom", UserFriendlyMessage: "Failed to process the bank statement."}
	require.NoError(t, s.UpdateJob(ctx, job, domain.JobStatusProcessing))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "boom", got.LastError)
	require.NotNil(t, got.StartedAt)
	assert.True(t, started.Equal(*got.StartedAt))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))
	require.NotNil(t, got.ResultSummary)
	assert.Equal(t, summary, *got.ResultSummary)
	require.NotNil(t, got.ErrorDetails)
	assert.Equal(t, "boom", got.ErrorDetails.Message)
	assert.Equal(t, "uploads/job-1.csv", got.FileURL)

	missing := newJob("nope", "acct-1", time.Now())
	err = s.UpdateJob(ctx, missing, domain.JobStatusPending)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testListJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedAccount(t, s, "acct-1")
	SeedAccount(t, s, "acct-2")
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateJob(ctx, newJob("job-a", "acct-1", base)))
	require.NoError(t, s.CreateJob(ctx, newJob("job-b", "acct-1", base.Add(time.Hour))))
	require.NoError(t, s.CreateJob(ctx, newJob("job-c", "acct-2", base.Add(2*time.Hour))))

	b, err := s.GetJob(ctx, "job-b")
	require.NoError(t, err)
	b.Status = domain.JobStatusProcessing
	require.NoError(t, s.UpdateJob(ctx, b, domain.JobStatusPending))

	all, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job-c", all[0].ID)

	acct1, err := s.ListJobs(ctx, store.JobFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, acct1, 2)
	assert.Equal(t, "job-b", acct1[0].ID)

	pending, err := s.ListJobs(ctx, store.JobFilter{AccountID: "acct-1", Status: domain.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "job-a", pending[0].ID)

	page, err := s.ListJobs(ctx, store.JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "job-b", page[0].ID)

	beyond, err := s.ListJobs(ctx, store.JobFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}
