// Package normalize turns loosely typed candidate records into canonical
// transactions.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxDescriptionLength is the stored description limit in runes.
	DefaultMaxDescriptionLength = 255
	// DefaultDescription replaces a missing description.
	DefaultDescription = "No description"
)

// Options configures a Normalizer.
type Options struct {
	MaxDescriptionLength int
	// DecimalSeparator is '.' or ','; zero infers it per value.
	DecimalSeparator rune
}

// Normalizer validates and coerces candidate records. It is stateless and
// safe for concurrent use.
type Normalizer struct {
	opts Options
	log  zerolog.Logger
}

// New creates a Normalizer.
func New(opts Options, log zerolog.Logger) *Normalizer {
	if opts.MaxDescriptionLength <= 0 {
		opts.MaxDescriptionLength = DefaultMaxDescriptionLength
	}
	return &Normalizer{opts: opts, log: log}
}

// Result is the outcome of normalising a batch.
type Result struct {
	Transactions []*domain.Transaction
	Rejected     []*domain.RowError
}

// NormalizeAll normalises records in order. Rejected rows are logged and
// collected; they never abort the batch.
func (n *Normalizer) NormalizeAll(records []domain.CandidateRecord) Result {
	var res Result
	for i, rec := range records {
		tx, err := n.Normalize(i, rec)
		if err != nil {
			rowErr, ok := err.(*domain.RowError)
			if !ok {
				rowErr = &domain.RowError{Row: i, Field: "record", Reason: err.Error()}
			}
			n.log.Warn().
				Int("row", i).
				Str("field", rowErr.Field).
				Str("value", rowErr.Value).
				Str("reason", rowErr.Reason).
				Msg("Skipping invalid record")
			res.Rejected = append(res.Rejected, rowErr)
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res
}

// Normalize converts one record. row is the record's position in the source
// and is used for error reporting and idempotency keys.
func (n *Normalizer) Normalize(row int, rec domain.CandidateRecord) (*domain.Transaction, error) {
	rawAmount, ok := rec[domain.FieldAmount]
	if !ok || rawAmount == nil {
		return nil, &domain.RowError{Row: row, Field: domain.FieldAmount, Reason: "missing"}
	}
	amount, err := ParseAmount(rawAmount, n.opts.DecimalSeparator)
	if err != nil {
		return nil, &domain.RowError{Row: row, Field: domain.FieldAmount, Value: fmt.Sprint(rawAmount), Reason: err.Error()}
	}

	rawDate, ok := rec[domain.FieldDate]
	if !ok || rawDate == nil {
		return nil, &domain.RowError{Row: row, Field: domain.FieldDate, Reason: "missing"}
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return nil, &domain.RowError{Row: row, Field: domain.FieldDate, Value: fmt.Sprint(rawDate), Reason: err.Error()}
	}

	direction, err := resolveDirection(rec, amount)
	if err != nil {
		typ, _ := rec.Text(domain.FieldType)
		return nil, &domain.RowError{Row: row, Field: domain.FieldType, Value: typ, Reason: err.Error()}
	}

	currency := ""
	if c, ok := rec.Text(domain.FieldCurrency); ok {
		currency = strings.ToUpper(c)
		if !isCurrencyCode(currency) {
			return nil, &domain.RowError{Row: row, Field: domain.FieldCurrency, Value: c, Reason: "not an ISO 4217 code"}
		}
	}

	description, ok := rec.Text(domain.FieldDescription)
	if !ok {
		description = DefaultDescription
	}
	description = n.truncate(row, description)

	label, ok := rec.Text(domain.FieldCategory)
	if !ok {
		label = domain.DefaultCategoryName(direction)
	}

	return &domain.Transaction{
		Row:           row,
		Date:          date,
		Amount:        amount.Abs(),
		Direction:     direction,
		Currency:      currency,
		Description:   description,
		CategoryLabel: label,
		Status:        domain.TransactionStatusCompleted,
	}, nil
}

// resolveDirection honours an explicit type and otherwise uses the sign:
// zero and positive amounts are income.
func resolveDirection(rec domain.CandidateRecord, amount decimal.Decimal) (domain.Direction, error) {
	if typ, ok := rec.Text(domain.FieldType); ok {
		return domain.ParseDirection(typ)
	}
	if amount.IsNegative() {
		return domain.DirectionExpense, nil
	}
	return domain.DirectionIncome, nil
}

func (n *Normalizer) truncate(row int, description string) string {
	runes := []rune(description)
	if len(runes) <= n.opts.MaxDescriptionLength {
		return description
	}
	n.log.Warn().
		Int("row", row).
		Int("original_length", len(runes)).
		Int("max_length", n.opts.MaxDescriptionLength).
		Msg("Truncating description")
	return string(runes[:n.opts.MaxDescriptionLength])
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
