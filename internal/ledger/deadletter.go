package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/store"
)

// DeadLetters returns every Failed mutation in seq order.
func (l *Ledger) DeadLetters(ctx context.Context) ([]model.Mutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	muts, err := l.store.Reader().ListMutations(ctx, model.StatusFailed)
	return muts, storageErr("list dead letters", err)
}

// RetryDeadLetter puts a Failed mutation back in the queue with a fresh retry
// budget. It keeps its original seq, so it is delivered ahead of anything
// queued after it.
func (l *Ledger) RetryDeadLetter(ctx context.Context, id string) (model.Mutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var m model.Mutation
	err := l.write(ctx, "retry dead letter", func(tx *store.Tx) error {
		var err error
		m, err = tx.Mutation(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != model.StatusFailed {
			return transitionErr(id, m.Status, model.StatusQueued)
		}
		now := l.now().UTC()
		m.Status = model.StatusQueued
		m.AttemptCount = 0
		m.Reason = ""
		m.NextAttemptAt = now
		m.UpdatedAt = now
		if err := l.change(ctx, tx, m, model.StatusFailed); err != nil {
			return err
		}
		return clearIfResolved(ctx, tx, m.Target, now)
	})
	if err != nil {
		return model.Mutation{}, err
	}
	l.logger.Info("dead letter requeued", "id", id, "target", m.Target.String())
	return m, nil
}

// DismissDeadLetter archives a Failed mutation with outcome dismissed. The
// operator accepts that the change will never reach the remote.
func (l *Ledger) DismissDeadLetter(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.write(ctx, "dismiss dead letter", func(tx *store.Tx) error {
		m, err := tx.Mutation(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != model.StatusFailed {
			return transitionErr(id, m.Status, model.StatusApplied)
		}
		now := l.now().UTC()
		moved, err := tx.MoveToHistory(ctx, id, model.StatusFailed, model.OutcomeDismissed, now)
		if err != nil {
			return err
		}
		if !moved {
			return transitionErr(id, m.Status, model.StatusApplied)
		}
		return clearIfResolved(ctx, tx, m.Target, now)
	})
	if err != nil {
		return err
	}
	l.logger.Info("dead letter dismissed", "id", id)
	return nil
}

// clearIfResolved drops the inconsistent flag once no dead letter remains on
// the entity.
func clearIfResolved(ctx context.Context, tx *store.Tx, ref model.EntityRef, at time.Time) error {
	failed, err := tx.ListMutations(ctx, model.StatusFailed)
	if err != nil {
		return err
	}
	for _, f := range failed {
		if f.Target == ref {
			return nil
		}
	}
	snap, err := tx.Entity(ctx, ref)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !snap.Inconsistent {
		return nil
	}
	snap.Inconsistent = false
	snap.UpdatedAt = at
	return tx.PutEntity(ctx, snap)
}
