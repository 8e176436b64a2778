package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPutter struct {
	PutFunc func(ctx context.Context, src any) error
	puts    []any
}

func (m *mockPutter) Put(ctx context.Context, src any) error {
	m.puts = append(m.puts, src)
	if m.PutFunc != nil {
		return m.PutFunc(ctx, src)
	}
	return nil
}

func sampleTransaction() *domain.Transaction {
	return &domain.Transaction{
		ID:            "tx-1",
		AccountID:     "acct-1",
		JobID:         "job-1",
		Date:          time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString("12.30"),
		Direction:     domain.DirectionExpense,
		Currency:      "EUR",
		Description:   "Bakery",
		CategoryID:    "cat-1",
		CategoryLabel: "Food",
		SourceFile:    "jan.csv",
		CreatedAt:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewTransactionRow(t *testing.T) {
	row := NewTransactionRow(sampleTransaction())

	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 2}, row.TransactionDate)
	assert.Equal(t, "123/10", row.Amount.String())
	assert.Equal(t, "-123/10", row.SignedAmount.String())
	assert.Equal(t, "EXPENSE", row.Direction)
	assert.Equal(t, bigquery.NullString{StringVal: "Food", Valid: true}, row.CategoryName)

	tx := sampleTransaction()
	tx.CategoryLabel = ""
	assert.False(t, NewTransactionRow(tx).CategoryName.Valid)
}

func TestBigQuerySink_Export(t *testing.T) {
	putter := &mockPutter{}
	sink := newBigQuerySink(putter, zerolog.Nop())
	job := &domain.IngestionJob{ID: "job-1"}

	require.NoError(t, sink.Export(context.Background(), job, []*domain.Transaction{sampleTransaction()}))
	require.Len(t, putter.puts, 1)

	savers, ok := putter.puts[0].([]*bigquery.StructSaver)
	require.True(t, ok)
	require.Len(t, savers, 1)
	assert.Equal(t, "tx-1", savers[0].InsertID)

	require.NoError(t, sink.Export(context.Background(), job, nil))
	assert.Len(t, putter.puts, 1)
}

func TestBigQuerySink_ExportError(t *testing.T) {
	putter := &mockPutter{PutFunc: func(context.Context, any) error { return errors.New("quota") }}
	sink := newBigQuerySink(putter, zerolog.Nop())

	err := sink.Export(context.Background(), &domain.IngestionJob{ID: "job-1"}, []*domain.Transaction{sampleTransaction()})
	assert.ErrorContains(t, err, "quota")
	assert.NoError(t, sink.Close())
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, NopSink{}.Export(context.Background(), nil, nil))
}
