package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxTitleLen matches the VARCHAR(100) column backing budget titles.
	MaxTitleLen = 100
	// MaxLabelLen matches the VARCHAR(100) column backing item labels.
	MaxLabelLen = 100
)

type (
	// Budget is a named snapshot of total income and its planned allocation,
	// owned by exactly one user.
	Budget struct {
		ID          int64           `json:"id"`
		OwnerID     int64           `json:"user_id"`
		Title       string          `json:"title"`
		TotalAmount decimal.Decimal `json:"total_amount"`
		CreatedAt   time.Time       `json:"created_at"`
		UpdatedAt   time.Time       `json:"updated_at"`
		Items       []BudgetItem    `json:"items"`
	}

	// BudgetItem is one labeled allocation line within a Budget. An item never
	// outlives its parent budget.
	BudgetItem struct {
		ID        int64           `json:"id"`
		BudgetID  int64           `json:"budget_id"`
		Label     string          `json:"label"`
		Value     decimal.Decimal `json:"value"`
		CreatedAt time.Time       `json:"created_at"`
		UpdatedAt time.Time       `json:"updated_at"`
	}

	// ItemInput is the caller-supplied shape of an allocation line. Identity
	// and timestamps are assigned by the store.
	ItemInput struct {
		Label string          `json:"label"`
		Value decimal.Decimal `json:"value"`
	}
)

// maxAmount is the largest value the DECIMAL(12,2) amount columns can hold.
var maxAmount = decimal.RequireFromString("9999999999.99")

// ValidateTitle checks a budget title before any store access.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(title) > MaxTitleLen {
		return &ValidationError{Field: "title", Reason: "too long (max 100 characters)"}
	}
	return nil
}

// ValidateAmount checks that an amount fits the DECIMAL(12,2) columns and is
// not negative. Zero is allowed: an empty budget is a valid snapshot.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return &ValidationError{Field: field, Reason: "must not be negative"}
	}
	if amount.GreaterThan(maxAmount) {
		return &ValidationError{Field: field, Reason: "exceeds 12 digit precision"}
	}
	if amount.Exponent() < -2 {
		return &ValidationError{Field: field, Reason: "more than 2 decimal places"}
	}
	return nil
}

// ValidateItems checks every allocation line of a save request.
func ValidateItems(items []ItemInput) error {
	for i, item := range items {
		if strings.TrimSpace(item.Label) == "" {
			return &ValidationError{Field: "items", Index: i, Reason: "item label must not be empty"}
		}
		if len(item.Label) > MaxLabelLen {
			return &ValidationError{Field: "items", Index: i, Reason: "item label too long (max 100 characters)"}
		}
		if err := ValidateAmount("items", item.Value); err != nil {
			ve := err.(*ValidationError)
			ve.Index = i
			return ve
		}
	}
	return nil
}
