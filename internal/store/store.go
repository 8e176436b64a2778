// Package store defines the persistence contract for accounts, categories,
// transactions and ingestion jobs. Implementations live in the memory,
// sqlite and postgres subpackages.
package store

import (
	"context"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 100

// TransactionFilter selects transactions for listing.
type TransactionFilter struct {
	AccountID string
	JobID     string
	Limit     int
	Offset    int
}

// JobFilter selects ingestion jobs for listing. Empty fields match all.
type JobFilter struct {
	AccountID string
	Status    domain.JobStatus
	Limit     int
	Offset    int
}

// Queries is the set of operations available both on a store and inside a
// transaction started with WithinTx.
type Queries interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	CreateAccount(ctx context.Context, a *domain.Account) error

	// FindCategory looks a category up by user, polarity and
	// case-insensitive name.
	FindCategory(ctx context.Context, userID, name string, polarity domain.Polarity) (*domain.Category, error)
	// EnsureCategory inserts c unless an equivalent category exists and
	// returns the stored row.
	EnsureCategory(ctx context.Context, c *domain.Category) (*domain.Category, error)

	// InsertTransactions inserts txs, skipping any whose ID already exists,
	// and returns how many rows were written.
	InsertTransactions(ctx context.Context, txs []*domain.Transaction) (int, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*domain.Transaction, error)

	CreateJob(ctx context.Context, job *domain.IngestionJob) error
	GetJob(ctx context.Context, id string) (*domain.IngestionJob, error)
	// UpdateJob overwrites the mutable fields of job provided its stored
	// status still equals expected. It returns domain.ErrConflict when the
	// status has moved on and domain.ErrNotFound when the job is missing.
	UpdateJob(ctx context.Context, job *domain.IngestionJob, expected domain.JobStatus) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.IngestionJob, error)
}

// Store is a Queries that can also group work into one atomic unit.
type Store interface {
	Queries

	// WithinTx runs fn in a transaction. Nothing fn wrote is visible if it
	// returns an error.
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Limit returns the effective limit for a list query.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
