package harness

import (
	"github.com/candykush2025/pos-candy-kush-sub005/internal/engine"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// Trace event types.
const (
	TraceStep = "step"
	TraceSync = "sync"
)

// TraceEvent is either a scenario step with its outcome or a scheduler event.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"` // "step" or "sync"

	// Step fields.
	Action  string                 `json:"action,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Outcome string                 `json:"outcome,omitempty"` // "ok" or an error code
	Result  map[string]interface{} `json:"result,omitempty"`

	// Sync fields.
	Sync *engine.Event `json:"sync,omitempty"`
}

// EntityState is one cached snapshot at the end of a scenario.
type EntityState struct {
	Ref          model.EntityRef        `json:"ref"`
	Fields       map[string]interface{} `json:"fields"`
	Inconsistent bool                   `json:"inconsistent"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps and scheduler events in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations and assertions. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is every cached snapshot, stock first, then customers, then
	// receipts, each ordered by id.
	State []EntityState `json:"state,omitempty"`

	// Status is the final sync status.
	Status model.SyncStatus `json:"status"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Entity returns the final state of ref, if cached.
func (r *Result) Entity(ref model.EntityRef) (EntityState, bool) {
	for _, e := range r.State {
		if e.Ref == ref {
			return e, true
		}
	}
	return EntityState{}, false
}
