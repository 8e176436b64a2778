package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/shopspring/decimal"
)

// Timestamps are stored as fixed-width UTC text so they sort correctly.
const (
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// queries implements store.Queries over a querier.
type queries struct {
	db querier
}

func (q *queries) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var (
		a       domain.Account
		created string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, currency, created_at FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("account %s: bad created_at: %w", id, err)
	}
	return &a, nil
}

func (q *queries) CreateAccount(ctx context.Context, a *domain.Account) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, currency, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Currency, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (q *queries) FindCategory(ctx context.Context, userID, name string, polarity domain.Polarity) (*domain.Category, error) {
	var (
		c       domain.Category
		created string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, polarity, color, icon, created_at
		 FROM categories WHERE user_id = ? AND name_key = ? AND polarity = ?`,
		userID, strings.ToLower(name), string(polarity),
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Polarity, &c.Color, &c.Icon, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("category %s: bad created_at: %w", c.ID, err)
	}
	return &c, nil
}

func (q *queries) EnsureCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, name_key, polarity, color, icon, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, name_key, polarity) DO NOTHING`,
		c.ID, c.UserID, c.Name, strings.ToLower(c.Name), string(c.Polarity), c.Color, c.Icon, formatTime(c.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert category: %w", err)
	}
	return q.FindCategory(ctx, c.UserID, c.Name, c.Polarity)
}

func (q *queries) InsertTransactions(ctx context.Context, txs []*domain.Transaction) (int, error) {
	inserted := 0
	for _, tx := range txs {
		res, err := q.db.ExecContext(ctx,
			`INSERT INTO transactions
			 (id, account_id, job_id, date, amount, type, currency, description, category_id, source_file, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			tx.ID, tx.AccountID, tx.JobID, tx.Date.Format(dateLayout), tx.Amount.String(),
			string(tx.Direction), tx.Currency, tx.Description, tx.CategoryID, tx.SourceFile,
			string(tx.Status), formatTime(tx.CreatedAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (q *queries) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]*domain.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	if filter.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.JobID != "" {
		conds = append(conds, "job_id = ?")
		args = append(args, filter.JobID)
	}

	query := `SELECT id, account_id, job_id, date, amount, type, currency, description,
	                 category_id, source_file, status, created_at
	          FROM transactions` + where(conds) + ` ORDER BY date, id LIMIT ? OFFSET ?`
	args = append(args, store.Limit(filter.Limit), max(filter.Offset, 0))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	result := []*domain.Transaction{}
	for rows.Next() {
		var (
			tx                   domain.Transaction
			date, amount, create string
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.JobID, &date, &amount, &tx.Direction, &tx.Currency,
			&tx.Description, &tx.CategoryID, &tx.SourceFile, &tx.Status, &create); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("transaction %s: bad date: %w", tx.ID, err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount: %w", tx.ID, err)
		}
		if tx.CreatedAt, err = parseTime(create); err != nil {
			return nil, fmt.Errorf("transaction %s: bad created_at: %w", tx.ID, err)
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
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO ingestion_jobs
		 (id, file_url, account_id, source_kind, status, attempts, last_error, created_at,
		  started_at, completed_at, result_summary, error_details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.FileURL, job.AccountID, string(job.SourceKind), string(job.Status), job.Attempts,
		job.LastError, formatTime(job.CreatedAt), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		nullString(job.ResultSummary), details,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

const jobColumns = `id, file_url, account_id, source_kind, status, attempts, last_error, created_at,
	started_at, completed_at, result_summary, error_details`

func (q *queries) GetJob(ctx context.Context, id string) (*domain.IngestionJob, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	res, err := q.db.ExecContext(ctx,
		`UPDATE ingestion_jobs
		 SET status = ?, attempts = ?, last_error = ?, started_at = ?, completed_at = ?,
		     result_summary = ?, error_details = ?
		 WHERE id = ? AND status = ?`,
		string(job.Status), job.Attempts, job.LastError, nullTime(job.StartedAt), nullTime(job.CompletedAt),
		nullString(job.ResultSummary), details, job.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = q.db.QueryRowContext(ctx, `SELECT status FROM ingestion_jobs WHERE id = ?`, job.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
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
		conds = append(conds, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	args = append(args, store.Limit(filter.Limit), max(filter.Offset, 0))

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs`+where(conds)+
			` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.IngestionJob, error) {
	var (
		job                   domain.IngestionJob
		created               string
		started, completed    sql.NullString
		summary, errorDetails sql.NullString
	)
	if err := row.Scan(&job.ID, &job.FileURL, &job.AccountID, &job.SourceKind, &job.Status, &job.Attempts,
		&job.LastError, &created, &started, &completed, &summary, &errorDetails); err != nil {
		return nil, err
	}

	var err error
	if job.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("job %s: bad created_at: %w", job.ID, err)
	}
	if job.StartedAt, err = timePtr(started); err != nil {
		return nil, fmt.Errorf("job %s: bad started_at: %w", job.ID, err)
	}
	if job.CompletedAt, err = timePtr(completed); err != nil {
		return nil, fmt.Errorf("job %s: bad completed_at: %w", job.ID, err)
	}
	if summary.Valid {
		s := summary.String
		job.ResultSummary = &s
	}
	if errorDetails.Valid {
		var d domain.ErrorDetails
		if err := json.Unmarshal([]byte(errorDetails.String), &d); err != nil {
			return nil, fmt.Errorf("job %s: bad error_details: %w", job.ID, err)
		}
		job.ErrorDetails = &d
	}
	return &job, nil
}

func marshalDetails(d *domain.ErrorDetails) (sql.NullString, error) {
	if d == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal error details: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
