package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// queries implements store.Queries over a pool or a transaction.
type queries struct {
	db dbtx
}

func (q *queries) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	err := q.db.QueryRow(ctx,
		`SELECT id, user_id, name, currency, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func (q *queries) CreateAccount(ctx context.Context, a *domain.Account) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO accounts (id, user_id, name, currency, created_at) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.UserID, a.Name, a.Currency, created,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (q *queries) FindCategory(ctx context.Context, userID, name string, polarity domain.Polarity) (*domain.Category, error) {
	var c domain.Category
	err := q.db.QueryRow(ctx,
		`SELECT id, user_id, name, polarity, color, icon, created_at
		 FROM categories WHERE user_id = $1 AND name_key = $2 AND polarity = $3`,
		userID, strings.ToLower(name), string(polarity),
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Polarity, &c.Color, &c.Icon, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	return &c, nil
}

// EnsureCategory relies on the unique (user_id, name_key, polarity)
// constraint. A concurrent insert of the same key blocks until the other
// transaction finishes, after which the follow-up read sees the winner.
func (q *queries) EnsureCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	_, err := q.db.Exec(ctx,
		`INSERT INTO categories (id, user_id, name, name_key, polarity, color, icon, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, name_key, polarity) DO NOTHING`,
		c.ID, c.UserID, c.Name, strings.ToLower(c.Name), string(c.Polarity), c.Color, c.Icon, c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert category: %w", err)
	}
	return q.FindCategory(ctx, c.UserID, c.Name, c.Polarity)
}

func (q *queries) InsertTransactions(ctx context.Context, txs []*domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, tx := range txs {
		batch.Queue(
			`INSERT INTO transactions
			 (id, account_id, job_id, date, amount, type, currency, description, category_id, source_file, status, created_at)
			 VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (id) DO NOTHING`,
			tx.ID, tx.AccountID, tx.JobID, tx.Date, tx.Amount.String(), string(tx.Direction),
			tx.Currency, tx.Description, tx.CategoryID, tx.SourceFile, string(tx.Status), tx.CreatedAt,
		)
	}

	br := q.db.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for _, tx := range txs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (q *queries) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]*domain.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.JobID != "" {
		args = append(args, filter.JobID)
		conds = append(conds, fmt.Sprintf("job_id = $%d", len(args)))
	}
	args = append(args, store.Limit(filter.Limit), max(filter.Offset, 0))

	rows, err := q.db.Query(ctx,
		`SELECT id, account_id, job_id, date, amount::text, type, currency, description,
		        category_id, source_file, status, created_at
		 FROM transactions`+where(conds)+
			fmt.Sprintf(` ORDER BY date, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	result := []*domain.Transaction{}
	for rows.Next() {
		var (
			tx     domain.Transaction
			amount string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.JobID, &tx.Date, &amount, &tx.Direction, &tx.Currency,
			&tx.Description, &tx.CategoryID, &tx.SourceFile, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount: %w", tx.ID, err)
		}
		result = append(result, &tx)
	}
	return result, rows.Err()
}

func (q *queries) CreateJob(ctx context.Context, job *domain.IngestionJob) error {
	details, err := marshalDetails(job.ErrorDetails)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO ingestion_jobs
		 (id, file_url, account_id, source_kind, status, attempts, last_error, created_at,
		  started_at, completed_at, result_summary, error_details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::text::jsonb)`,
		job.ID, job.FileURL, job.AccountID, string(job.SourceKind), string(job.Status), job.Attempts,
		job.LastError, job.CreatedAt, job.StartedAt, job.CompletedAt, job.ResultSummary, details,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

const jobColumns = `id, file_url, account_id, source_kind, status, attempts, last_error, created_at,
	started_at, completed_at, result_summary, error_details::text`

func (q *queries) GetJob(ctx context.Context, id string) (*domain.IngestionJob, error) {
	job, err := scanJob(q.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (q *queries) UpdateJob(ctx context.Context, job *domain.IngestionJob, expected domain.JobStatus) error {
	details, err := marshalDetails(job.ErrorDetails)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE ingestion_jobs
		 SET status = $1, attempts = $2, last_error = $3, started_at = $4, completed_at = $5,
		     result_summary = $6, error_details = $7::text::jsonb
		 WHERE id = $8 AND status = $9`,
		string(job.Status), job.Attempts, job.LastError, job.StartedAt, job.CompletedAt,
		job.ResultSummary, details, job.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = q.db.QueryRow(ctx, `SELECT status FROM ingestion_jobs WHERE id = $1`, job.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}
	return fmt.Errorf("job %s is %s, expected %s: %w", job.ID, current, expected, domain.ErrConflict)
}

func (q *queries) ListJobs(ctx context.Context, filter store.JobFilter) ([]*domain.IngestionJob, error) {
	var (
		conds []string
		args  []any
	)
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, store.Limit(filter.Limit), max(filter.Offset, 0))

	rows, err := q.db.Query(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs`+where(conds)+
			fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	result := []*domain.IngestionJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

func scanJob(row pgx.Row) (*domain.IngestionJob, error) {
	var (
		job     domain.IngestionJob
		details *string
	)
	if err := row.Scan(&job.ID, &job.FileURL, &job.AccountID, &job.SourceKind, &job.Status, &job.Attempts,
		&job.LastError, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.ResultSummary, &details); err != nil {
		return nil, err
	}
	if details != nil {
		var d domain.ErrorDetails
		if err := json.Unmarshal([]byte(*details), &d); err != nil {
			return nil, fmt.Errorf("job %s: bad error_details: %w", job.ID, err)
		}
		job.ErrorDetails = &d
	}
	return &job, nil
}

func marshalDetails(d *domain.ErrorDetails) (*string, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error details: %w", err)
	}
	s := string(b)
	return &s, nil
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
