// Package export mirrors committed transactions to external sinks.
package export

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Sink receives transactions after their job has committed. Sinks are best
// effort; callers log failures and move on.
type Sink interface {
	Export(ctx context.Context, job *domain.IngestionJob, txs []*domain.Transaction) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Export(context.Context, *domain.IngestionJob, []*domain.Transaction) error { return nil }

// TransactionRow is the BigQuery shape of a committed transaction.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	AccountID     string `bigquery:"account_id"`     // REQUIRED
	JobID         string `bigquery:"job_id"`         // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount       *big.Rat `bigquery:"amount"`        // REQUIRED NUMERIC, unsigned
	SignedAmount *big.Rat `bigquery:"signed_amount"` // REQUIRED NUMERIC
	Direction    string   `bigquery:"direction"`     // INCOME | EXPENSE | TRANSFER
	Currency     string   `bigquery:"currency"`

	Description  string              `bigquery:"description"`
	CategoryID   string              `bigquery:"category_id"`
	CategoryName bigquery.NullString `bigquery:"category_name"` // NULLABLE

	SourceFile string    `bigquery:"source_file"`
	CreatedTS  time.Time `bigquery:"created_ts"`
}

// NewTransactionRow converts a committed transaction.
func NewTransactionRow(tx *domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:   tx.ID,
		AccountID:       tx.AccountID,
		JobID:           tx.JobID,
		TransactionDate: civil.DateOf(tx.Date),
		Amount:          tx.Amount.Rat(),
		SignedAmount:    tx.Direction.Signed(tx.Amount).Rat(),
		Direction:       string(tx.Direction),
		Currency:        tx.Currency,
		Description:     tx.Description,
		CategoryID:      tx.CategoryID,
		SourceFile:      tx.SourceFile,
		CreatedTS:       tx.CreatedAt,
	}
	if tx.CategoryLabel != "" {
		row.CategoryName = bigquery.NullString{StringVal: tx.CategoryLabel, Valid: true}
	}
	return row
}

// rowPutter is the part of *bigquery.Inserter the sink uses.
type rowPutter interface {
	Put(ctx context.Context, src any) error
}

// BigQuerySink streams rows into a BigQuery table.
type BigQuerySink struct {
	putter rowPutter
	client *bigquery.Client
	log    zerolog.Logger
}

// NewBigQuerySink connects to project and targets dataset.table.
func NewBigQuerySink(ctx context.Context, project, dataset, table, credentialsFile string, log zerolog.Logger) (*BigQuerySink, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}

	// Use fully qualified table name to avoid project ID issues
	inserter := client.DatasetInProject(project, dataset).Table(table).Inserter()
	return &BigQuerySink{putter: inserter, client: client, log: log}, nil
}

func newBigQuerySink(putter rowPutter, log zerolog.Logger) *BigQuerySink {
	return &BigQuerySink{putter: putter, log: log}
}

// Export inserts one row per transaction. Insert IDs are the transaction IDs,
// so a repeated export within BigQuery's dedup window is dropped.
func (s *BigQuerySink) Export(ctx context.Context, job *domain.IngestionJob, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(txs))
	for _, tx := range txs {
		savers = append(savers, &bigquery.StructSaver{
			Struct:   NewTransactionRow(tx),
			InsertID: tx.ID,
		})
	}

	if err := s.putter.Put(ctx, savers); err != nil {
		return fmt.Errorf("export transactions: inserting rows: %w", err)
	}

	s.log.Debug().
		Str("job_id", job.ID).
		Int("rows", len(savers)).
		Msg("Exported transactions to BigQuery")
	return nil
}

// Close releases the client.
func (s *BigQuerySink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

var (
	_ Sink = NopSink{}
	_ Sink = (*BigQuerySink)(nil)
)
