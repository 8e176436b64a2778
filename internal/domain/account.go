package domain

import "time"

// Account is read-only to the ingestion pipeline.
type Account struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"createdAt"`
}

// Polarity separates income categories from expense categories.
type Polarity string

const (
	PolarityIncome  Polarity = "income"
	PolarityExpense Polarity = "expense"
)

// Category labels used when a record carries none.
const (
	DefaultIncomeCategory  = "Income"
	DefaultExpenseCategory = "Uncategorized"
)

// DefaultCategoryName returns the label assigned to uncategorised records.
func DefaultCategoryName(d Direction) string {
	if d == DirectionIncome {
		return DefaultIncomeCategory
	}
	return DefaultExpenseCategory
}

// Category is a user-scoped label; names are unique per user and polarity,
// ignoring case.
type Category struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Polarity  Polarity  `json:"type"`
	Color     string    `json:"color"`
	Icon      string    `json:"icon"`
	CreatedAt time.Time `json:"createdAt"`
}

// CategoryStyle returns the colour and icon given to categories created
// during ingestion.
func CategoryStyle(p Polarity) (color, icon string) {
	if p == PolarityIncome {
		return "#10B981", "trending-up"
	}
	return "#EF4444", "shopping-cart"
}
