package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/store"
)

// ReconcileSnapshot merges a document fetched from the remote into the local
// snapshot and returns the result.
//
// Remote fields overwrite local ones, except fields still owned by a Queued or
// InFlight mutation on the entity. A pending stock delta or point accrual
// rebases: the local value becomes the remote value plus every pending delta.
// An InFlight delta may already be part of the remote value, so its field
// keeps the local value until the delivery is recorded. A pending customer
// patch keeps its fields. A pending receipt keeps the whole body.
//
// The document's updated_at counts as a write by another client unless it is
// this terminal's last confirmed write, or a delivery to the entity is in
// flight and the write may be ours but not yet recorded.
//
// A document older than the one already cached is ignored. A missing snapshot
// is created.
func (l *Ledger) ReconcileSnapshot(ctx context.Context, doc model.Document) (model.Snapshot, error) {
	return l.reconcile(ctx, "reconcile snapshot", doc, time.Time{}, false)
}

// ReconcileWrite merges the document returned by a write this terminal made.
// observed is the remote updated_at read just before the write, zero if
// nothing was read. doc's updated_at becomes the entity's own-write marker.
func (l *Ledger) ReconcileWrite(ctx context.Context, observed time.Time, doc model.Document) (model.Snapshot, error) {
	return l.reconcile(ctx, "reconcile write", doc, observed, true)
}

func (l *Ledger) reconcile(ctx context.Context, op string, doc model.Document, observed time.Time, own bool) (model.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ref := model.Ref(doc.Ref.Collection, doc.Ref.ID)
	var out model.Snapshot
	err := l.write(ctx, op, func(tx *store.Tx) error {
		local, err := tx.Entity(ctx, ref)
		exists := err == nil
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}

		pending, err := tx.PendingForEntity(ctx, ref)
		if err != nil {
			return err
		}

		out = local
		out.Ref = ref
		if own {
			out.ForeignUpdatedAt = noteForeign(local, observed)
			if doc.UpdatedAt.After(local.OwnWriteAt) {
				out.OwnWriteAt = doc.UpdatedAt.UTC()
			}
		} else if !hasInFlight(pending) {
			out.ForeignUpdatedAt = noteForeign(local, doc.UpdatedAt)
		}

		if exists && !doc.UpdatedAt.IsZero() && doc.UpdatedAt.Before(local.RemoteUpdatedAt) {
			if out.ForeignUpdatedAt.Equal(local.ForeignUpdatedAt) && out.OwnWriteAt.Equal(local.OwnWriteAt) {
				out = local
				return nil
			}
			out.UpdatedAt = l.now().UTC()
			return tx.PutEntity(ctx, out)
		}

		out.Data, err = mergeFields(local.Data, doc.Data, pending)
		if err != nil {
			return err
		}
		out.RemoteUpdatedAt = doc.UpdatedAt.UTC()
		out.UpdatedAt = l.now().UTC()
		return tx.PutEntity(ctx, out)
	})
	return out, err
}

// noteForeign returns snap's foreign-write marker advanced to seen, unless
// seen is our own last write or not newer.
func noteForeign(snap model.Snapshot, seen time.Time) time.Time {
	if seen.IsZero() || seen.Equal(snap.OwnWriteAt) || !seen.After(snap.ForeignUpdatedAt) {
		return snap.ForeignUpdatedAt
	}
	return seen.UTC()
}

func hasInFlight(muts []model.Mutation) bool {
	for _, m := range muts {
		if m.Status == model.StatusInFlight {
			return true
		}
	}
	return false
}

// FlagInconsistent sets or clears the inconsistent marker on a snapshot.
func (l *Ledger) FlagInconsistent(ctx context.Context, ref model.EntityRef, inconsistent bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(ctx, "flag inconsistent", func(tx *store.Tx) error {
		return setInconsistent(ctx, tx, ref, inconsistent, l.now().UTC())
	})
}

func setInconsistent(ctx context.Context, tx *store.Tx, ref model.EntityRef, inconsistent bool, at time.Time) error {
	snap, err := tx.Entity(ctx, ref)
	if err != nil {
		return err
	}
	if snap.Inconsistent == inconsistent {
		return nil
	}
	snap.Inconsistent = inconsistent
	snap.UpdatedAt = at
	return tx.PutEntity(ctx, snap)
}

// mergeFields computes the reconciled body from the local body, the remote
// body and the mutations still pending on the entity.
func mergeFields(local, remote json.RawMessage, pending []model.Mutation) (json.RawMessage, error) {
	remoteFields, err := model.Fields(remote)
	if err != nil {
		return nil, fmt.Errorf("remote document: %w", err)
	}
	localFields, err := model.Fields(local)
	if err != nil {
		return nil, fmt.Errorf("local snapshot: %w", err)
	}

	pinned := map[string]bool{}
	deltas := map[string]int64{}
	for _, m := range pending {
		fd, err := m.FieldDeltas()
		if err != nil {
			return nil, err
		}
		if len(fd) > 0 {
			for k, d := range fd {
				if m.Status == model.StatusInFlight {
					pinned[k] = true
					continue
				}
				deltas[k] += d
			}
			continue
		}

		covered, all, err := m.CoveredFields()
		if err != nil {
			return nil, err
		}
		if all && len(local) > 0 {
			return local, nil
		}
		for k := range covered {
			pinned[k] = true
		}
	}

	for k := range pinned {
		if v, ok := localFields[k]; ok {
			remoteFields[k] = v
		} else {
			delete(remoteFields, k)
		}
	}
	for k, d := range deltas {
		if pinned[k] {
			continue
		}
		var n int64
		if raw, ok := remoteFields[k]; ok {
			if err := json.Unmarshal(raw, &n); err != nil {
				return nil, fmt.Errorf("remote %s: %w", k, err)
			}
		}
		raw, err := json.Marshal(n + d)
		if err != nil {
			return nil, err
		}
		remoteFields[k] = raw
	}

	return json.Marshal(remoteFields)
}
