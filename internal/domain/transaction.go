package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the flow of money for a transaction. Amounts are always stored
// as unsigned magnitudes; the sign lives here.
type Direction string

const (
	DirectionIncome   Direction = "INCOME"
	DirectionExpense  Direction = "EXPENSE"
	DirectionTransfer Direction = "TRANSFER"
)

// ParseDirection maps an explicit type label to a Direction.
// CREDIT and DEBIT are accepted as bank-statement aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INCOME", "CREDIT":
		return DirectionIncome, nil
	case "EXPENSE", "DEBIT":
		return DirectionExpense, nil
	case "TRANSFER":
		return DirectionTransfer, nil
	default:
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
}

// Polarity returns the category polarity a direction belongs to.
// Transfers are filed with expenses.
func (d Direction) Polarity() Polarity {
	if d == DirectionIncome {
		return PolarityIncome
	}
	return PolarityExpense
}

// Signed returns amount with the sign implied by the direction.
func (d Direction) Signed(amount decimal.Decimal) decimal.Decimal {
	if d == DirectionIncome {
		return amount
	}
	return amount.Neg()
}

// TransactionStatus is the booking status of a stored transaction.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
)

// Transaction is one canonical, persisted transaction.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"accountId"`
	JobID       string            `json:"jobId"`
	Date        time.Time         `json:"date"`
	Amount      decimal.Decimal   `json:"amount"`
	Direction   Direction         `json:"type"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	CategoryID  string            `json:"categoryId"`
	SourceFile  string            `json:"sourceFile"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`

	// Row is the position of the record in the source, starting at 0.
	Row int `json:"-"`
	// CategoryLabel is the free-text label awaiting resolution.
	CategoryLabel string `json:"-"`
}

// CandidateRecord is a loosely typed row emitted by a source adapter.
type CandidateRecord map[string]any

// Candidate record field names shared by all adapters.
const (
	FieldDate        = "date"
	FieldAmount      = "amount"
	FieldDescription = "description"
	FieldCategory    = "category"
	FieldCurrency    = "currency"
	FieldType        = "type"
)

// Text returns a trimmed string view of field. Numbers are formatted;
// missing, nil and blank values report false.
func (r CandidateRecord) Text(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case fmt.Stringer:
		s = val.String()
	default:
		s = fmt.Sprint(val)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
