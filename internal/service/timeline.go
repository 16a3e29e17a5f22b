package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// TimelineEntry is one mutation in an entity's life, archived or active.
type TimelineEntry struct {
	Seq       int64              `json:"seq"`
	ID        string             `json:"id"`
	Kind      model.MutationKind `json:"kind"`
	Payload   json.RawMessage    `json:"payload"`
	State     string             `json:"state"` // outcome for archived, status for active
	Reason    string             `json:"reason,omitempty"`
	Attempts  int                `json:"attempts,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	At        time.Time          `json:"at"`
}

// Timeline is the ordered mutation history of one entity.
type Timeline struct {
	Ref     model.EntityRef `json:"ref"`
	Entries []TimelineEntry `json:"entries"`
	Active  int             `json:"active"`
}

// Timeline lists every mutation that targeted ref in seq order.
func (s *Service) Timeline(ctx context.Context, ref model.EntityRef) (Timeline, error) {
	ref = model.Ref(ref.Collection, ref.ID)
	tl := Timeline{Ref: ref, Entries: []TimelineEntry{}}

	hist, err := s.ledger.History(ctx, ref)
	if err != nil {
		return Timeline{}, err
	}
	for _, h := range hist {
		tl.Entries = append(tl.Entries, TimelineEntry{
			Seq: h.Seq, ID: h.ID, Kind: h.Kind, Payload: h.Payload,
			State: string(h.Outcome), CreatedAt: h.CreatedAt, At: h.ResolvedAt,
		})
	}

	active, err := s.ledger.PendingFor(ctx, ref)
	if err != nil {
		return Timeline{}, err
	}
	dead, err := s.ledger.DeadLetters(ctx)
	if err != nil {
		return Timeline{}, err
	}
	for _, m := range dead {
		if m.Target == ref {
			active = append(active, m)
		}
	}
	for _, m := range active {
		tl.Entries = append(tl.Entries, TimelineEntry{
			Seq: m.Seq, ID: m.ID, Kind: m.Kind, Payload: m.Payload,
			State: string(m.Status), Reason: string(m.Reason), Attempts: m.AttemptCount,
			CreatedAt: m.CreatedAt, At: m.UpdatedAt,
		})
	}
	tl.Active = len(active)

	sort.Slice(tl.Entries, func(i, j int) bool { return tl.Entries[i].Seq < tl.Entries[j].Seq })
	return tl, nil
}
