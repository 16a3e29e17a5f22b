package engine

import (
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/conflict"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// State is the scheduler's position in its state machine.
type State string

const (
	StateIdle     State = "Idle"
	StateDraining State = "Draining"
	StateBackoff  State = "Backoff"
)

// EventType names a scheduler trace event.
type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventPassStarted    EventType = "pass_started"
	EventPassFinished   EventType = "pass_finished"
	EventDelivering     EventType = "delivering"
	EventResolved       EventType = "resolved"
	EventRetryScheduled EventType = "retry_scheduled"
	EventReverted       EventType = "reverted"
)

// Event is one entry in the scheduler trace.
type Event struct {
	Seq        int64               `json:"seq"`
	Type       EventType           `json:"type"`
	State      State               `json:"state,omitempty"`
	MutationID string              `json:"mutation_id,omitempty"`
	Target     string              `json:"target,omitempty"`
	Kind       model.MutationKind  `json:"kind,omitempty"`
	Verdict    conflict.Verdict    `json:"verdict,omitempty"`
	Reason     model.FailureReason `json:"reason,omitempty"`
	Attempt    int                 `json:"attempt,omitempty"`
	Delay      time.Duration       `json:"delay,omitempty"`
}

// Observer receives trace events synchronously from the scheduler goroutine.
// It must not block or call back into the scheduler.
type Observer func(Event)

// Stats counts what the scheduler has done since it was created.
type Stats struct {
	Passes     int64 `json:"passes"`
	Applied    int64 `json:"applied"`
	Superseded int64 `json:"superseded"`
	Retried    int64 `json:"retried"`
	Failed     int64 `json:"failed"`
	Reverted   int64 `json:"reverted"`
}
