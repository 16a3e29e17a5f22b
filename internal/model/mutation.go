package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationKind identifies what a pending mutation does remotely.
type MutationKind string

const (
	KindStockDelta     MutationKind = "StockDelta"
	KindCustomerUpdate MutationKind = "CustomerUpdate"
	KindReceiptCreate  MutationKind = "ReceiptCreate"
)

// MutationStatus is a mutation's position in its state machine:
//
//	Queued -> InFlight -> Applied | Queued (retry) | Failed
//
// Applied mutations leave the active log. Failed mutations stay in it as
// dead letters until an operator resolves them.
type MutationStatus string

const (
	StatusQueued   MutationStatus = "Queued"
	StatusInFlight MutationStatus = "InFlight"
	StatusFailed   MutationStatus = "Failed"
	StatusApplied  MutationStatus = "Applied"
)

// FailureReason explains why a mutation was dead-lettered.
type FailureReason string

const (
	ReasonOversold             FailureReason = "Oversold"
	ReasonRetryBudgetExhausted FailureReason = "RetryBudgetExhausted"
	ReasonRemoteRejected       FailureReason = "RemoteRejected"
	ReasonRemoteMissing        FailureReason = "RemoteMissing"
	ReasonConcurrentWrite      FailureReason = "ConcurrentWrite"
)

// Outcome records how a mutation left the active log.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeDismissed  Outcome = "dismissed"
)

// Mutation is a locally queued write awaiting delivery to the remote system
// of record.
type Mutation struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	Target        EntityRef       `json:"target"`
	Kind          MutationKind    `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	AttemptCount  int             `json:"attempt_count"`
	Status        MutationStatus  `json:"status"`
	Reason        FailureReason   `json:"reason,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
	// BaseUpdatedAt is the remote updated_at the target's snapshot carried
	// when the mutation was queued.
	BaseUpdatedAt time.Time `json:"-"`
}

// NewStockDeltaMutation builds an unsaved StockDelta mutation.
func NewStockDeltaMutation(itemID string, delta int64) (Mutation, error) {
	return newMutation(Ref(CollectionStock, itemID), KindStockDelta, StockDelta{Delta: delta})
}

// NewCustomerUpdateMutation builds an unsaved CustomerUpdate mutation.
func NewCustomerUpdateMutation(customerID string, patch CustomerPatch) (Mutation, error) {
	return newMutation(Ref(CollectionCustomers, customerID), KindCustomerUpdate, patch)
}

// NewReceiptCreateMutation builds an unsaved ReceiptCreate mutation.
func NewReceiptCreateMutation(r Receipt) (Mutation, error) {
	return newMutation(Ref(CollectionReceipts, r.ReceiptID), KindReceiptCreate, r)
}

func newMutation(target EntityRef, kind MutationKind, payload any) (Mutation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Mutation{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Mutation{Target: target, Kind: kind, Payload: data, Status: StatusQueued}, nil
}

// StockDelta decodes a StockDelta payload.
func (m Mutation) StockDelta() (StockDelta, error) {
	var d StockDelta
	if m.Kind != KindStockDelta {
		return d, fmt.Errorf("mutation %s is %s, not %s", m.ID, m.Kind, KindStockDelta)
	}
	if err := json.Unmarshal(m.Payload, &d); err != nil {
		return d, fmt.Errorf("decode stock delta %s: %w", m.ID, err)
	}
	return d, nil
}

// CustomerPatch decodes a CustomerUpdate payload.
func (m Mutation) CustomerPatch() (CustomerPatch, error) {
	var p CustomerPatch
	if m.Kind != KindCustomerUpdate {
		return p, fmt.Errorf("mutation %s is %s, not %s", m.ID, m.Kind, KindCustomerUpdate)
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("decode customer patch %s: %w", m.ID, err)
	}
	return p, nil
}

// Receipt decodes a ReceiptCreate payload.
func (m Mutation) Receipt() (Receipt, error) {
	var r Receipt
	if m.Kind != KindReceiptCreate {
		return r, fmt.Errorf("mutation %s is %s, not %s", m.ID, m.Kind, KindReceiptCreate)
	}
	if err := json.Unmarshal(m.Payload, &r); err != nil {
		return r, fmt.Errorf("decode receipt %s: %w", m.ID, err)
	}
	return r, nil
}

// FieldDeltas returns the additive changes this mutation makes, keyed by
// field. Nil when the mutation only sets values.
func (m Mutation) FieldDeltas() (map[string]int64, error) {
	switch m.Kind {
	case KindStockDelta:
		d, err := m.StockDelta()
		if err != nil {
			return nil, err
		}
		return map[string]int64{FieldQuantity: d.Delta}, nil
	case KindCustomerUpdate:
		p, err := m.CustomerPatch()
		if err != nil {
			return nil, err
		}
		if p.PointsDelta == nil {
			return nil, nil
		}
		return map[string]int64{FieldPoints: *p.PointsDelta}, nil
	default:
		return nil, nil
	}
}

// CoveredFields returns the snapshot fields this mutation owns until it is
// confirmed. A nil map with all=true means every field.
func (m Mutation) CoveredFields() (fields map[string]bool, all bool, err error) {
	switch m.Kind {
	case KindStockDelta:
		return map[string]bool{FieldQuantity: true}, false, nil
	case KindCustomerUpdate:
		p, err := m.CustomerPatch()
		if err != nil {
			return nil, false, err
		}
		if p.PointsDelta != nil {
			fields = map[string]bool{FieldPoints: true}
		}
		if fields == nil {
			fields = map[string]bool{}
		}
		for k := range p.Fields() {
			fields[k] = true
		}
		return fields, false, nil
	case KindReceiptCreate:
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

// IsPending reports whether the mutation still awaits delivery.
func (m Mutation) IsPending() bool {
	return m.Status == StatusQueued || m.Status == StatusInFlight
}

// HistoryEntry is a mutation that left the active log.
type HistoryEntry struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Target     EntityRef       `json:"target"`
	Kind       MutationKind    `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Outcome    Outcome         `json:"outcome"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// SyncStatus is the aggregate the caller-facing API exposes.
type SyncStatus struct {
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}
