package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input any
		sep   rune
		want  string
	}{
		{"brazilian negative with symbol", "-R$ 3.660,00", 0, "-3660"},
		{"brazilian positive", "R$ 3.000,00", 0, "3000"},
		{"symbol before sign", "R$ -12,34", 0, "-12.34"},
		{"us thousands", "$1,234.56", 0, "1234.56"},
		{"plain", "100", 0, "100"},
		{"comma decimal", "12,5", 0, "12.5"},
		{"comma thousands", "1,000", 0, "1000"},
		{"dot thousands", "1.234.567", 0, "1234567"},
		{"swiss apostrophe", "CHF 1'234.50", 0, "1234.5"},
		{"space thousands", "1 234,56 EUR", 0, "1234.56"},
		{"trailing minus", "45.00-", 0, "-45"},
		{"parentheses", "(45.00)", 0, "-45"},
		{"leading separator", "-.50", 0, "-0.5"},
		{"explicit comma separator", "1.000", ',', "1000"},
		{"explicit dot separator", "1,000.5", '.', "1000.5"},
		{"float", 42.5, 0, "42.5"},
		{"negative int", -7, 0, "-7"},
		{"json number", json.Number("-19.99"), 0, "-19.99"},
		{"json number three decimals", json.Number("1.500"), 0, "1.5"},
		{"brazilian dot thousands", "R$ 1.500", 0, "1500"},
		{"brazilian negative dot thousands", "-R$ 3.660", 0, "-3660"},
		{"brazilian comma decimal", "R$ 1,500", 0, "1.5"},
		{"euro suffix dot thousands", "2.500 EUR", 0, "2500"},
		{"dollar dot decimal", "$1.500", 0, "1.5"},
		{"dollar comma thousands", "$1,500", 0, "1500"},
		{"dot thousands without currency", "1.500", 0, "1500"},
		{"zero integer comma", "0,123", 0, "0.123"},
		{"zero integer dot", "0.123", 0, "0.123"},
		{"leading comma three digits", ",123", 0, "0.123"},
		{"dot decimal two digits", "12.50", 0, "12.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.sep)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	inputs := []any{
		"",
		"   ",
		"abc",
		"12abc34",
		"1,2,3.4,5",
		math.NaN(),
		math.Inf(1),
		nil,
		[]string{"1"},
	}
	for _, in := range inputs {
		_, err := ParseAmount(in, 0)
		assert.Error(t, err, "input %v", in)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC)
	inputs := []any{
		"2023-01-31",
		"31.01.2023",
		"31/01/2023",
		"31-01-2023",
		"31.1.2023",
		"31/01/23",
		"31 Jan 2023",
		"2023-01-31T23:30:00+02:00",
		time.Date(2023, time.January, 31, 18, 0, 0, 0, time.FixedZone("X", 3600)),
	}
	for _, in := range inputs {
		got, err := ParseDate(in)
		require.NoError(t, err, "input %v", in)
		assert.True(t, got.Equal(want), "input %v: got %s", in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	for _, bad := range []any{"", "31.02.2023", "yesterday", "13/13/2023", nil} {
		_, err := ParseDate(bad)
		assert.Error(t, err, "input %v", bad)
	}
}

func newTestNormalizer(buf *bytes.Buffer) *Normalizer {
	return New(Options{}, zerolog.New(buf))
}

func TestNormalize_ExplicitType(t *testing.T) {
	n := newTestNormalizer(&bytes.Buffer{})

	tx, err := n.Normalize(0, domain.CandidateRecord{
		domain.FieldDate:        "2023-01-01",
		domain.FieldAmount:      "100",
		domain.FieldDescription: "Test Transaction",
		domain.FieldType:        "INCOME",
		domain.FieldCategory:    "Salary",
	})
	require.NoError(t, err)

	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, domain.DirectionIncome, tx.Direction)
	assert.Equal(t, "Test Transaction", tx.Description)
	assert.Equal(t, "Salary", tx.CategoryLabel)
	assert.Equal(t, domain.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), tx.Date)
}

func TestNormalize_SignConvention(t *testing.T) {
	n := newTestNormalizer(&bytes.Buffer{})

	expense, err := n.Normalize(0, domain.CandidateRecord{
		domain.FieldDate:   "05.03.2024",
		domain.FieldAmount: "-R$ 3.660,00",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionExpense, expense.Direction)
	assert.True(t, expense.Amount.Equal(decimal.RequireFromString("3660.00")))
	assert.True(t, expense.Direction.Signed(expense.Amount).Equal(decimal.RequireFromString("-3660")))
	assert.Equal(t, domain.DefaultExpenseCategory, expense.CategoryLabel)
	assert.Equal(t, DefaultDescription, expense.Description)

	income, err := n.Normalize(1, domain.CandidateRecord{
		domain.FieldDate:   "05/03/2024",
		domain.FieldAmount: 0.0,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionIncome, income.Direction)
	assert.Equal(t, domain.DefaultIncomeCategory, income.CategoryLabel)
}

func TestNormalize_TypeOverridesSign(t *testing.T) {
	n := newTestNormalizer(&bytes.Buffer{})

	tx, err := n.Normalize(0, domain.CandidateRecord{
		domain.FieldDate:   "2024-03-05",
		domain.FieldAmount: "250",
		domain.FieldType:   "transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionTransfer, tx.Direction)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, domain.DefaultExpenseCategory, tx.CategoryLabel)
}

func TestNormalize_TruncatesDescription(t *testing.T) {
	buf := &bytes.Buffer{}
	n := newTestNormalizer(buf)

	long := strings.Repeat("é", 300)
	tx, err := n.Normalize(3, domain.CandidateRecord{
		domain.FieldDate:        "2024-03-05",
		domain.FieldAmount:      "1",
		domain.FieldDescription: long,
	})
	require.NoError(t, err)

	assert.Equal(t, 255, len([]rune(tx.Description)))
	assert.Contains(t, buf.String(), "Truncating description")
	assert.Contains(t, buf.String(), `"original_length":300`)
}

func TestNormalize_Rejections(t *testing.T) {
	n := newTestNormalizer(&bytes.Buffer{})

	tests := []struct {
		name  string
		rec   domain.CandidateRecord
		field string
	}{
		{"missing amount", domain.CandidateRecord{domain.FieldDate: "2024-01-01"}, domain.FieldAmount},
		{"bad amount", domain.CandidateRecord{domain.FieldDate: "2024-01-01", domain.FieldAmount: "n/a"}, domain.FieldAmount},
		{"missing date", domain.CandidateRecord{domain.FieldAmount: "1"}, domain.FieldDate},
		{"bad date", domain.CandidateRecord{domain.FieldDate: "soon", domain.FieldAmount: "1"}, domain.FieldDate},
		{"unknown type", domain.CandidateRecord{domain.FieldDate: "2024-01-01", domain.FieldAmount: "1", domain.FieldType: "refund"}, domain.FieldType},
		{"bad currency", domain.CandidateRecord{domain.FieldDate: "2024-01-01", domain.FieldAmount: "1", domain.FieldCurrency: "euro"}, domain.FieldCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(7, tt.rec)
			var rowErr *domain.RowError
			require.ErrorAs(t, err, &rowErr)
			assert.Equal(t, 7, rowErr.Row)
			assert.Equal(t, tt.field, rowErr.Field)
		})
	}
}

func TestNormalizeAll_SkipsInvalidRows(t *testing.T) {
	buf := &bytes.Buffer{}
	n := newTestNormalizer(buf)

	res := n.NormalizeAll([]domain.CandidateRecord{
		{domain.FieldDate: "2024-01-01", domain.FieldAmount: "10", domain.FieldCurrency: "brl"},
		{domain.FieldDate: "not a date", domain.FieldAmount: "10"},
		{domain.FieldDate: "2024-01-03", domain.FieldAmount: "-5"},
	})

	require.Len(t, res.Transactions, 2)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 0, res.Transactions[0].Row)
	assert.Equal(t, "BRL", res.Transactions[0].Currency)
	assert.Equal(t, 2, res.Transactions[1].Row)
	assert.Equal(t, 1, res.Rejected[0].Row)
	assert.Contains(t, buf.String(), "Skipping invalid record")
}
