package model

import (
	"github.com/shopspring/decimal"
)

// FieldQuantity is the stock field a StockDelta mutation covers.
const FieldQuantity = "quantity"

// StockRecord is one product's inventory state.
//
// The remote system of record owns it; the ledger holds a cached copy plus the
// effect of pending deltas.
type StockRecord struct {
	ItemID            string          `json:"item_id"`
	Name              string          `json:"name,omitempty"`
	Quantity          int64           `json:"quantity"`
	TrackStock        bool            `json:"track_stock"`
	LowStockThreshold *int64          `json:"low_stock_threshold,omitempty"`
	AvailableForSale  bool            `json:"available_for_sale"`
	Price             decimal.Decimal `json:"price"`
	Cost              decimal.Decimal `json:"cost"`
}

// IsOutOfStock reports whether tracked stock is exhausted.
func (r StockRecord) IsOutOfStock() bool {
	return r.TrackStock && r.Quantity <= 0
}

// IsLowStock reports whether tracked stock is at or below its threshold.
func (r StockRecord) IsLowStock() bool {
	return r.TrackStock && r.LowStockThreshold != nil && r.Quantity <= *r.LowStockThreshold
}

// Validate checks the record's static invariants.
func (r StockRecord) Validate() error {
	var errs []FieldError
	if r.ItemID == "" {
		errs = append(errs, FieldError{Field: "item_id", Message: "required"})
	}
	if r.Price.IsNegative() {
		errs = append(errs, FieldError{Field: "price", Message: "must be non-negative"})
	}
	if r.Cost.IsNegative() {
		errs = append(errs, FieldError{Field: "cost", Message: "must be non-negative"})
	}
	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}

// StockDelta is the payload of a StockDelta mutation.
type StockDelta struct {
	Delta int64 `json:"delta"`
}

// OversellPolicy decides what happens when a delta would take tracked stock
// below zero.
type OversellPolicy string

const (
	// OversellReject rejects the sale locally and fails it at sync.
	OversellReject OversellPolicy = "reject"
	// OversellDefer accepts the sale locally and flags it at sync.
	OversellDefer OversellPolicy = "defer"
	// OversellAllow permits negative stock everywhere.
	OversellAllow OversellPolicy = "allow"
)

// ParseOversellPolicy validates a policy name. Empty selects OversellDefer.
func ParseOversellPolicy(s string) (OversellPolicy, error) {
	switch p := OversellPolicy(s); p {
	case "":
		return OversellDefer, nil
	case OversellReject, OversellDefer, OversellAllow:
		return p, nil
	default:
		return "", NewValidationError("oversell", "must be one of reject, defer, allow")
	}
}

// WouldOversell reports whether applying delta to quantity breaks the
// non-negative stock rule for a tracked item.
func WouldOversell(rec StockRecord, delta int64) bool {
	return rec.TrackStock && rec.Quantity+delta < 0
}
