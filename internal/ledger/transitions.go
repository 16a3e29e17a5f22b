package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/store"
)

// MarkInFlight moves a Queued mutation to InFlight and returns it.
func (l *Ledger) MarkInFlight(ctx context.Context, id string) (model.Mutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var m model.Mutation
	err := l.write(ctx, "mark in-flight", func(tx *store.Tx) error {
		var err error
		m, err = tx.Mutation(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != model.StatusQueued {
			return transitionErr(id, m.Status, model.StatusInFlight)
		}
		m.Status = model.StatusInFlight
		m.UpdatedAt = l.now().UTC()
		return l.change(ctx, tx, m, model.StatusQueued)
	})
	return m, err
}

// MarkApplied removes an InFlight mutation from the log after the remote
// confirmed it. Replaying MarkApplied for an id already archived as applied is
// a no-op.
func (l *Ledger) MarkApplied(ctx context.Context, id string) error {
	return l.archive(ctx, id, model.OutcomeApplied)
}

// MarkSuperseded removes an InFlight mutation whose change lost to a newer
// remote write.
func (l *Ledger) MarkSuperseded(ctx context.Context, id string) error {
	return l.archive(ctx, id, model.OutcomeSuperseded)
}

func (l *Ledger) archive(ctx context.Context, id string, outcome model.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	return l.write(ctx, "mark "+string(outcome), func(tx *store.Tx) error {
		moved, err := tx.MoveToHistory(ctx, id, model.StatusInFlight, outcome, now)
		if err != nil {
			return err
		}
		if !moved {
			return l.alreadyArchived(ctx, tx, id, outcome)
		}
		return tx.SetMetaTime(ctx, store.MetaLastSync, now)
	})
}

// alreadyArchived decides what a repeated archive call means: success if the
// mutation already left the log with the same outcome, otherwise an error.
func (l *Ledger) alreadyArchived(ctx context.Context, tx *store.Tx, id string, outcome model.Outcome) error {
	h, err := tx.HistoryEntry(ctx, id)
	if err == nil {
		if h.Outcome == outcome {
			return nil
		}
		return fmt.Errorf("%w: mutation %s already %s", model.ErrInvalidTransition, id, h.Outcome)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	m, err := tx.Mutation(ctx, id)
	if err != nil {
		return err
	}
	return transitionErr(id, m.Status, model.StatusApplied)
}

// MarkFailed dead-letters an InFlight mutation. An Oversold stock delta also
// flags its entity inconsistent until the dead letter is resolved.
func (l *Ledger) MarkFailed(ctx context.Context, id string, reason model.FailureReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var m model.Mutation
	err := l.write(ctx, "mark failed", func(tx *store.Tx) error {
		var err error
		m, err = tx.Mutation(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != model.StatusInFlight {
			return transitionErr(id, m.Status, model.StatusFailed)
		}
		now := l.now().UTC()
		m.Status = model.StatusFailed
		m.Reason = reason
		m.NextAttemptAt = time.Time{}
		m.UpdatedAt = now
		if err := l.change(ctx, tx, m, model.StatusInFlight); err != nil {
			return err
		}
		if reason == model.ReasonOversold {
			return setInconsistent(ctx, tx, m.Target, true, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Warn("mutation dead-lettered", "id", id, "target", m.Target.String(), "reason", reason)
	return nil
}

// Requeue returns an InFlight mutation to Queued after a retriable failure,
// recording the new attempt count and when it becomes due again.
func (l *Ledger) Requeue(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.write(ctx, "requeue", func(tx *store.Tx) error {
		m, err := tx.Mutation(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != model.StatusInFlight {
			return transitionErr(id, m.Status, model.StatusQueued)
		}
		m.Status = model.StatusQueued
		m.AttemptCount = attempts
		m.NextAttemptAt = nextAttemptAt.UTC()
		m.UpdatedAt = l.now().UTC()
		return l.change(ctx, tx, m, model.StatusInFlight)
	})
}

// Revert returns an InFlight mutation to Queued without consuming an attempt.
// Used when delivery was cancelled by shutdown.
func (l *Ledger) Revert(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.write(ctx, "revert", func(tx *store.Tx) error {
		m, err := tx.Mutation(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != model.StatusInFlight {
			return transitionErr(id, m.Status, model.StatusQueued)
		}
		m.Status = model.StatusQueued
		m.UpdatedAt = l.now().UTC()
		return l.change(ctx, tx, m, model.StatusInFlight)
	})
}

func (l *Ledger) change(ctx context.Context, tx *store.Tx, m model.Mutation, from model.MutationStatus) error {
	ok, err := tx.UpdateStatus(ctx, store.StatusChange{
		ID:            m.ID,
		From:          from,
		To:            m.Status,
		AttemptCount:  m.AttemptCount,
		Reason:        m.Reason,
		NextAttemptAt: m.NextAttemptAt,
		At:            m.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if !ok {
		return transitionErr(m.ID, from, m.Status)
	}
	return nil
}

func transitionErr(id string, from, to model.MutationStatus) error {
	return fmt.Errorf("%w: mutation %s is %s, cannot become %s", model.ErrInvalidTransition, id, from, to)
}
