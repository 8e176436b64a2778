// Package memory is an in-memory implementation of store.Store.
// It is safe for concurrent use. Data is lost on restart, so it is meant for
// tests and single-process local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/store"
)

// Store keeps every table in maps guarded by one mutex. Values are copied on
// the way in and out so callers never share memory with the store.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	accounts     map[string]*domain.Account
	categories   map[string]*domain.Category
	transactions map[string]*domain.Transaction
	jobs         map[string]*domain.IngestionJob
}

func newState() *state {
	return &state{
		accounts:     make(map[string]*domain.Account),
		categories:   make(map[string]*domain.Category),
		transactions: make(map[string]*domain.Transaction),
		jobs:         make(map[string]*domain.IngestionJob),
	}
}

// clone copies the maps. Stored values are never mutated in place, so the
// pointers can be shared between copies.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	return c
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// WithinTx runs fn against a private copy of the data and publishes the copy
// only if fn succeeds. Writers are serialised for the duration of fn.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, q store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, working); err != nil {
		return err
	}
	s.state = working
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *Store) GetAccount(ctx context.Context, id string) (a *domain.Account, err error) {
	err = s.read(func(st *state) error {
		a, err = st.GetAccount(ctx, id)
		return err
	})
	return a, err
}

func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	return s.write(func(st *state) error { return st.CreateAccount(ctx, a) })
}

func (s *Store) FindCategory(ctx context.Context, userID, name string, polarity domain.Polarity) (c *domain.Category, err error) {
	err = s.read(func(st *state) error {
		c, err = st.FindCategory(ctx, userID, name, polarity)
		return err
	})
	return c, err
}

func (s *Store) EnsureCategory(ctx context.Context, c *domain.Category) (stored *domain.Category, err error) {
	err = s.write(func(st *state) error {
		stored, err = st.EnsureCategory(ctx, c)
		return err
	})
	return stored, err
}

func (s *Store) InsertTransactions(ctx context.Context, txs []*domain.Transaction) (n int, err error) {
	err = s.write(func(st *state) error {
		n, err = st.InsertTransactions(ctx, txs)
		return err
	})
	return n, err
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) (txs []*domain.Transaction, err error) {
	err = s.read(func(st *state) error {
		txs, err = st.ListTransactions(ctx, filter)
		return err
	})
	return txs, err
}

func (s *Store) CreateJob(ctx context.Context, job *domain.IngestionJob) error {
	return s.write(func(st *state) error { return st.CreateJob(ctx, job) })
}

func (s *Store) GetJob(ctx context.Context, id string) (job *domain.IngestionJob, err error) {
	err = s.read(func(st *state) error {
		job, err = st.GetJob(ctx, id)
		return err
	})
	return job, err
}

func (s *Store) UpdateJob(ctx context.Context, job *domain.IngestionJob, expected domain.JobStatus) error {
	return s.write(func(st *state) error { return st.UpdateJob(ctx, job, expected) })
}

func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) (jobs []*domain.IngestionJob, err error) {
	err = s.read(func(st *state) error {
		jobs, err = st.ListJobs(ctx, filter)
		return err
	})
	return jobs, err
}

// The methods below implement store.Queries on a state without locking.

func (st *state) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (st *state) CreateAccount(_ context.Context, a *domain.Account) error {
	if a.ID == "" {
		return fmt.Errorf("account ID is required")
	}
	if _, exists := st.accounts[a.ID]; exists {
		return fmt.Errorf("account %s: %w", a.ID, domain.ErrConflict)
	}
	c := *a
	st.accounts[a.ID] = &c
	return nil
}

func (st *state) FindCategory(_ context.Context, userID, name string, polarity domain.Polarity) (*domain.Category, error) {
	key := strings.ToLower(name)
	for _, c := range st.categories {
		if c.UserID == userID && c.Polarity == polarity && strings.ToLower(c.Name) == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("category %q: %w", name, domain.ErrNotFound)
}

func (st *state) EnsureCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	if existing, err := st.FindCategory(ctx, c.UserID, c.Name, c.Polarity); err == nil {
		return existing, nil
	}
	cp := *c
	st.categories[c.ID] = &cp
	out := cp
	return &out, nil
}

func (st *state) InsertTransactions(_ context.Context, txs []*domain.Transaction) (int, error) {
	inserted := 0
	for _, tx := range txs {
		if _, exists := st.transactions[tx.ID]; exists {
			continue
		}
		if _, ok := st.accounts[tx.AccountID]; !ok {
			return inserted, fmt.Errorf("transaction %s: account %s: %w", tx.ID, tx.AccountID, domain.ErrNotFound)
		}
		if _, ok := st.categories[tx.CategoryID]; !ok {
			return inserted, fmt.Errorf("transaction %s: category %s: %w", tx.ID, tx.CategoryID, domain.ErrNotFound)
		}
		cp := *tx
		st.transactions[tx.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (st *state) ListTransactions(_ context.Context, filter store.TransactionFilter) ([]*domain.Transaction, error) {
	var result []*domain.Transaction
	for _, tx := range st.transactions {
		if filter.AccountID != "" && tx.AccountID != filter.AccountID {
			continue
		}
		if filter.JobID != "" && tx.JobID != filter.JobID {
			continue
		}
		cp := *tx
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return paginate(result, filter.Offset, filter.Limit), nil
}

func (st *state) CreateJob(_ context.Context, job *domain.IngestionJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, exists := st.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrConflict)
	}
	st.jobs[job.ID] = job.Clone()
	return nil
}

func (st *state) GetJob(_ context.Context, id string) (*domain.IngestionJob, error) {
	job, ok := st.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return job.Clone(), nil
}

func (st *state) UpdateJob(_ context.Context, job *domain.IngestionJob, expected domain.JobStatus) error {
	current, ok := st.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("job %s is %s, expected %s: %w", job.ID, current.Status, expected, domain.ErrConflict)
	}
	updated := job.Clone()
	// Identity fields are immutable.
	updated.FileURL = current.FileURL
	updated.AccountID = current.AccountID
	updated.SourceKind = current.SourceKind
	updated.CreatedAt = current.CreatedAt
	st.jobs[job.ID] = updated
	return nil
}

func (st *state) ListJobs(_ context.Context, filter store.JobFilter) ([]*domain.IngestionJob, error) {
	var result []*domain.IngestionJob
	for _, job := range st.jobs {
		if filter.AccountID != "" && job.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, job.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return paginate(result, filter.Offset, filter.Limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if l := store.Limit(limit); l < len(items) {
		items = items[:l]
	}
	if items == nil {
		return []T{}
	}
	return items
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Queries = (*state)(nil)
)
