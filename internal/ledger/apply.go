package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/store"
)

// ApplyOptimistic validates m against the local snapshot, applies its effect
// to the snapshot and appends it to the log as Queued, atomically.
//
// On success m carries its assigned ID, Seq and timestamps. A validation
// failure returns a *model.ValidationError and nothing is queued.
func (l *Ledger) ApplyOptimistic(ctx context.Context, m *model.Mutation) (model.Snapshot, error) {
	snaps, err := l.ApplyBatch(ctx, []*model.Mutation{m})
	if err != nil {
		return model.Snapshot{}, err
	}
	return snaps[0], nil
}

// ApplyBatch is ApplyOptimistic for several mutations in one transaction.
// Later mutations observe the effect of earlier ones. Either all are queued or
// none are.
func (l *Ledger) ApplyBatch(ctx context.Context, muts []*model.Mutation) ([]model.Snapshot, error) {
	if len(muts) == 0 {
		return nil, model.NewValidationError("mutations", "nothing to apply")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	snaps := make([]model.Snapshot, 0, len(muts))
	err := l.write(ctx, "apply optimistic", func(tx *store.Tx) error {
		for _, m := range muts {
			m.Target = model.Ref(m.Target.Collection, m.Target.ID)
			snap, err := l.applyOne(ctx, tx, m)
			if err != nil {
				return err
			}
			base := snap.RemoteUpdatedAt
			snap.UpdatedAt = now
			if err := tx.PutEntity(ctx, snap); err != nil {
				return err
			}

			if m.ID == "" {
				m.ID = l.ids.Generate()
			}
			m.Status = model.StatusQueued
			m.AttemptCount = 0
			m.Reason = ""
			m.NextAttemptAt = now
			m.CreatedAt = now
			m.UpdatedAt = now
			m.BaseUpdatedAt = base
			if err := tx.InsertMutation(ctx, m); err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, m := range muts {
		l.logger.Debug("mutation queued", "id", m.ID, "seq", m.Seq, "kind", m.Kind, "target", m.Target.String())
	}
	return snaps, nil
}

func (l *Ledger) applyOne(ctx context.Context, tx *store.Tx, m *model.Mutation) (model.Snapshot, error) {
	switch m.Kind {
	case model.KindStockDelta:
		return l.applyStockDelta(ctx, tx, m)
	case model.KindCustomerUpdate:
		return applyCustomerUpdate(ctx, tx, m)
	case model.KindReceiptCreate:
		return applyReceiptCreate(ctx, tx, m)
	default:
		return model.Snapshot{}, model.NewValidationError("kind", fmt.Sprintf("unknown mutation kind %q", m.Kind))
	}
}

func (l *Ledger) applyStockDelta(ctx context.Context, tx *store.Tx, m *model.Mutation) (model.Snapshot, error) {
	if m.Target.Collection != model.CollectionStock {
		return model.Snapshot{}, model.NewValidationError("collection", "stock delta must target stock")
	}
	d, err := m.StockDelta()
	if err != nil {
		return model.Snapshot{}, model.NewValidationError("payload", err.Error())
	}
	if d.Delta == 0 {
		return model.Snapshot{}, model.NewValidationError("delta", "must be non-zero")
	}

	snap, err := cached(ctx, tx, m.Target)
	if err != nil {
		return model.Snapshot{}, err
	}
	rec, err := snap.Stock()
	if err != nil {
		return model.Snapshot{}, err
	}
	if l.policy == model.OversellReject && model.WouldOversell(rec, d.Delta) {
		return model.Snapshot{}, model.NewValidationError("quantity",
			fmt.Sprintf("insufficient stock: have %d, delta %d", rec.Quantity, d.Delta))
	}

	snap.Data, err = setField(snap.Data, model.FieldQuantity, rec.Quantity+d.Delta)
	if err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

func applyCustomerUpdate(ctx context.Context, tx *store.Tx, m *model.Mutation) (model.Snapshot, error) {
	if m.Target.Collection != model.CollectionCustomers {
		return model.Snapshot{}, model.NewValidationError("collection", "customer update must target customers")
	}
	p, err := m.CustomerPatch()
	if err != nil {
		return model.Snapshot{}, model.NewValidationError("payload", err.Error())
	}
	if err := p.Validate(); err != nil {
		return model.Snapshot{}, err
	}

	snap, err := cached(ctx, tx, m.Target)
	if err != nil {
		return model.Snapshot{}, err
	}
	for k, v := range p.Fields() {
		if snap.Data, err = setField(snap.Data, k, v); err != nil {
			return model.Snapshot{}, err
		}
	}
	if p.PointsDelta != nil {
		rec, err := snap.Customer()
		if err != nil {
			return model.Snapshot{}, err
		}
		points := rec.Points + *p.PointsDelta
		if points < 0 {
			return model.Snapshot{}, model.NewValidationError("points_delta",
				fmt.Sprintf("balance would go negative: have %d, delta %d", rec.Points, *p.PointsDelta))
		}
		if snap.Data, err = setField(snap.Data, model.FieldPoints, points); err != nil {
			return model.Snapshot{}, err
		}
	}
	return snap, nil
}

func applyReceiptCreate(ctx context.Context, tx *store.Tx, m *model.Mutation) (model.Snapshot, error) {
	if m.Target.Collection != model.CollectionReceipts {
		return model.Snapshot{}, model.NewValidationError("collection", "receipt must target receipts")
	}
	r, err := m.Receipt()
	if err != nil {
		return model.Snapshot{}, model.NewValidationError("payload", err.Error())
	}
	if err := r.Validate(); err != nil {
		return model.Snapshot{}, err
	}

	_, err = tx.Entity(ctx, m.Target)
	switch {
	case err == nil:
		return model.Snapshot{}, fmt.Errorf("receipt %s: %w", m.Target.ID, model.ErrAlreadyExists)
	case !errors.Is(err, model.ErrNotFound):
		return model.Snapshot{}, err
	}
	return model.Snapshot{Ref: m.Target, Data: m.Payload}, nil
}

// cached loads the snapshot a mutation applies to. A missing snapshot is a
// caller error: the entity must be pulled before it can be changed offline.
func cached(ctx context.Context, tx *store.Tx, ref model.EntityRef) (model.Snapshot, error) {
	snap, err := tx.Entity(ctx, ref)
	if errors.Is(err, model.ErrNotFound) {
		return model.Snapshot{}, &model.ValidationError{Errors: []model.FieldError{{
			Field:   "id",
			Message: fmt.Sprintf("%s is not in the local cache", ref),
		}}}
	}
	return snap, err
}

func setField(data json.RawMessage, key string, value any) (json.RawMessage, error) {
	fields, err := model.Fields(data)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode field %s: %w", key, err)
	}
	fields[key] = raw
	return json.Marshal(fields)
}
