package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is a completed sale. Receipts are immutable once recorded and are
// never rolled back, even when a stock delta they caused is dead-lettered.
type Receipt struct {
	ReceiptID    string          `json:"receipt_id"`
	CustomerID   string          `json:"customer_id,omitempty"`
	Lines        []ReceiptLine   `json:"lines"`
	Total        decimal.Decimal `json:"total"`
	PointsEarned int64           `json:"points_earned"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ReceiptLine is one sold item.
type ReceiptLine struct {
	ItemID    string          `json:"item_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns quantity * unit price.
func (l ReceiptLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// ComputeTotal sums the line totals.
func (r Receipt) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// Validate checks the receipt.
func (r Receipt) Validate() error {
	var errs []FieldError
	if r.ReceiptID == "" {
		errs = append(errs, FieldError{Field: "receipt_id", Message: "required"})
	}
	if len(r.Lines) == 0 {
		errs = append(errs, FieldError{Field: "lines", Message: "at least one line required"})
	}
	for _, l := range r.Lines {
		if l.ItemID == "" {
			errs = append(errs, FieldError{Field: "lines.item_id", Message: "required"})
		}
		if l.Quantity <= 0 {
			errs = append(errs, FieldError{Field: "lines.quantity", Message: "must be positive"})
		}
		if l.UnitPrice.IsNegative() {
			errs = append(errs, FieldError{Field: "lines.unit_price", Message: "must be non-negative"})
		}
	}
	if r.PointsEarned < 0 {
		errs = append(errs, FieldError{Field: "points_earned", Message: "must be non-negative"})
	}
	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}
