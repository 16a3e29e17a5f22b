package model

import (
	"time"
)

// FieldPoints is the customer field holding the loyalty balance.
const FieldPoints = "points"

// CustomerRecord is a loyalty customer.
type CustomerRecord struct {
	CustomerID string     `json:"customer_id"`
	Name       string     `json:"name,omitempty"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	IsNoMember bool       `json:"is_no_member"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Points     int64      `json:"points"`
}

// Eligible reports whether a customer may accrue and redeem loyalty points at
// now. Membership can expire between calls, so callers evaluate it per
// decision and never store the result.
func Eligible(isNoMember bool, expiryDate *time.Time, now time.Time) bool {
	if isNoMember {
		return false
	}
	return expiryDate == nil || !expiryDate.Before(now)
}

// EligibleAt is Eligible applied to the record.
func (c CustomerRecord) EligibleAt(now time.Time) bool {
	return Eligible(c.IsNoMember, c.ExpiryDate, now)
}

// CustomerPatch is the payload of a CustomerUpdate mutation. Only non-nil
// fields are written.
type CustomerPatch struct {
	Name        *string    `json:"name,omitempty"`
	Email       *string    `json:"email,omitempty"`
	Phone       *string    `json:"phone,omitempty"`
	IsNoMember  *bool      `json:"is_no_member,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	ClearExpiry bool       `json:"clear_expiry,omitempty"`
	Points      *int64     `json:"points,omitempty"`
	// PointsDelta adds to the balance instead of setting it. At delivery it is
	// applied to the remote balance current at that moment, so accruals from
	// several terminals add up.
	PointsDelta *int64 `json:"points_delta,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p CustomerPatch) IsEmpty() bool {
	return len(p.Fields()) == 0 && p.PointsDelta == nil
}

// IsAccrual reports whether the patch only adjusts the point balance.
func (p CustomerPatch) IsAccrual() bool {
	return p.PointsDelta != nil && len(p.Fields()) == 0
}

// Fields returns the record fields the patch writes, keyed by JSON name.
// A cleared expiry maps to nil. PointsDelta is not a field write and is not
// included.
func (p CustomerPatch) Fields() map[string]any {
	f := map[string]any{}
	if p.Name != nil {
		f["name"] = NormalizeText(*p.Name)
	}
	if p.Email != nil {
		f["email"] = *p.Email
	}
	if p.Phone != nil {
		f["phone"] = *p.Phone
	}
	if p.IsNoMember != nil {
		f["is_no_member"] = *p.IsNoMember
	}
	switch {
	case p.ClearExpiry:
		f["expiry_date"] = nil
	case p.ExpiryDate != nil:
		f["expiry_date"] = p.ExpiryDate.UTC()
	}
	if p.Points != nil {
		f[FieldPoints] = *p.Points
	}
	return f
}

// Validate checks the patch.
func (p CustomerPatch) Validate() error {
	if p.IsEmpty() {
		return NewValidationError("patch", "no fields to update")
	}
	if p.ClearExpiry && p.ExpiryDate != nil {
		return NewValidationError("expiry_date", "cannot set and clear in one patch")
	}
	if p.Points != nil && *p.Points < 0 {
		return NewValidationError("points", "must be non-negative")
	}
	if p.PointsDelta != nil {
		if *p.PointsDelta == 0 {
			return NewValidationError("points_delta", "must be non-zero")
		}
		if len(p.Fields()) > 0 {
			return NewValidationError("points_delta", "cannot be combined with other fields")
		}
	}
	return nil
}
