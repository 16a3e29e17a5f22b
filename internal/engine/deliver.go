package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/conflict"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// deliver moves one Queued mutation through InFlight to its next status.
// Returns only ledger failures.
func (s *Scheduler) deliver(ctx context.Context, id string) error {
	m, err := s.ledger.MarkInFlight(ctx, id)
	if errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrNotFound) {
		// Another process resolved it between NextQueued and here.
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark in-flight %s: %w", id, err)
	}

	var known conflict.Baseline
	if snap, err := s.ledger.Snapshot(ctx, m.Target); err == nil {
		known = conflict.BaselineOf(snap)
	}

	s.emit(Event{Type: EventDelivering, MutationID: m.ID, Target: m.Target.String(), Kind: m.Kind, Attempt: m.AttemptCount + 1})
	res, derr := s.resolver.Deliver(ctx, m, known)

	// The outcome must be recorded even if shutdown began mid-call.
	lctx := context.WithoutCancel(ctx)

	if derr != nil {
		if ctx.Err() != nil {
			if err := s.ledger.Revert(lctx, m.ID); err != nil {
				return fmt.Errorf("revert %s: %w", m.ID, err)
			}
			s.count(func(st *Stats) { st.Reverted++ })
			s.emit(Event{Type: EventReverted, MutationID: m.ID, Target: m.Target.String(), Kind: m.Kind})
			return nil
		}
		return s.retry(lctx, m, derr)
	}

	switch res.Verdict {
	case conflict.VerdictApplied:
		err = s.ledger.MarkApplied(lctx, m.ID)
		s.count(func(st *Stats) { st.Applied++ })
	case conflict.VerdictSuperseded:
		err = s.ledger.MarkSuperseded(lctx, m.ID)
		s.count(func(st *Stats) { st.Superseded++ })
	default:
		err = s.ledger.MarkFailed(lctx, m.ID, res.Reason)
		s.count(func(st *Stats) { st.Failed++ })
	}
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", res.Verdict, m.ID, err)
	}
	s.emit(Event{
		Type: EventResolved, MutationID: m.ID, Target: m.Target.String(), Kind: m.Kind,
		Verdict: res.Verdict, Reason: res.Reason, Attempt: m.AttemptCount + 1,
	})

	if res.Doc != nil {
		if res.Written {
			_, err = s.ledger.ReconcileWrite(lctx, res.Observed, *res.Doc)
		} else {
			_, err = s.ledger.ReconcileSnapshot(lctx, *res.Doc)
		}
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", m.Target, err)
		}
	}
	return nil
}

// retry requeues after a transient failure, or dead-letters the mutation
// once its retry budget is spent.
func (s *Scheduler) retry(ctx context.Context, m model.Mutation, cause error) error {
	attempts := m.AttemptCount + 1
	if attempts >= s.cfg.MaxAttempts {
		if err := s.ledger.MarkFailed(ctx, m.ID, model.ReasonRetryBudgetExhausted); err != nil {
			return fmt.Errorf("mark failed %s: %w", m.ID, err)
		}
		s.count(func(st *Stats) { st.Failed++ })
		s.emit(Event{
			Type: EventResolved, MutationID: m.ID, Target: m.Target.String(), Kind: m.Kind,
			Verdict: conflict.VerdictFailed, Reason: model.ReasonRetryBudgetExhausted, Attempt: attempts,
		})
		return nil
	}

	delay := BackoffDelay(s.cfg.BaseDelay, s.cfg.MaxDelay, attempts)
	if err := s.ledger.Requeue(ctx, m.ID, attempts, s.now().Add(delay)); err != nil {
		return fmt.Errorf("requeue %s: %w", m.ID, err)
	}
	s.count(func(st *Stats) { st.Retried++ })
	s.logger.Debug("delivery failed, backing off", "id", m.ID, "attempt", attempts, "delay", delay, "error", cause)
	s.emit(Event{
		Type: EventRetryScheduled, MutationID: m.ID, Target: m.Target.String(), Kind: m.Kind,
		Attempt: attempts, Delay: delay,
	})
	return nil
}
