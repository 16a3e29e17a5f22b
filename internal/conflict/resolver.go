// Package conflict delivers one mutation to the remote system of record and
// decides its final outcome when the remote disagrees with the local view.
//
// The remote is last-write-wins and offers only get-by-id, field update and
// create, so conflicts are detected by comparing the document read before the
// write with the document returned after it.
//
// Policies:
//   - StockDelta: the delta is applied to the fresh remote quantity. If that
//     would take tracked stock below zero and the oversell policy is not
//     allow, the mutation fails as Oversold.
//   - CustomerUpdate: last write wins. The patch is written unless another
//     client updated the record after the patch was made locally; ties go to
//     the remote and the patch is superseded. A point accrual is a delta and
//     is applied to the fresh remote balance, like a stock delta.
//   - ReceiptCreate: create is idempotent; an existing receipt with the same
//     id means an earlier delivery landed.
//
// Outcomes are final. A rejected write is re-derived from a fresh read at
// most once.
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/remote"
)

// Verdict is the final outcome of delivering a mutation.
type Verdict string

const (
	VerdictApplied    Verdict = "applied"
	VerdictSuperseded Verdict = "superseded"
	VerdictFailed     Verdict = "failed"
)

// Resolution is what the scheduler records for a delivered mutation.
type Resolution struct {
	Verdict Verdict
	// Reason is set when Verdict is VerdictFailed.
	Reason model.FailureReason
	// Doc is the freshest remote document seen, for reconciling the local
	// snapshot. Nil when nothing usable was read.
	Doc *model.Document
	// Written is set when Doc is the result of this delivery's own write.
	Written bool
	// Observed is the remote updated_at read before writing, zero if none.
	Observed time.Time
	Detail   string
}

// Baseline is what the terminal knows about an entity's remote writes when a
// delivery starts.
type Baseline struct {
	// ForeignAt is the latest remote updated_at seen from another client.
	ForeignAt time.Time
	// OwnWriteAt is the updated_at of this terminal's last confirmed write.
	OwnWriteAt time.Time
}

// BaselineOf returns the baseline recorded on a snapshot.
func BaselineOf(snap model.Snapshot) Baseline {
	return Baseline{ForeignAt: snap.ForeignUpdatedAt, OwnWriteAt: snap.OwnWriteAt}
}

// Resolver delivers mutations and applies the conflict policy.
type Resolver struct {
	remote remote.Client
	policy model.OversellPolicy
	logger *slog.Logger
}

// NewResolver creates a resolver. An empty policy means defer.
func NewResolver(c remote.Client, policy model.OversellPolicy, logger *slog.Logger) *Resolver {
	if policy == "" {
		policy = model.OversellDefer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{remote: c, policy: policy, logger: logger.With("component", "resolver")}
}

// Deliver sends m to the remote and returns its final outcome.
//
// known lets a customer patch tell writes by other clients apart from this
// terminal's own earlier writes.
//
// A non-nil error means the outcome is not final: the error is transient or
// the context ended, and the mutation should be retried or reverted.
func (r *Resolver) Deliver(ctx context.Context, m model.Mutation, known Baseline) (Resolution, error) {
	var (
		res Resolution
		err error
	)
	switch m.Kind {
	case model.KindStockDelta:
		res, err = r.deliverStock(ctx, m, true)
	case model.KindCustomerUpdate:
		res, err = r.deliverCustomer(ctx, m, known, true)
	case model.KindReceiptCreate:
		res, err = r.deliverReceipt(ctx, m)
	default:
		return failed(model.ReasonRemoteRejected, nil, fmt.Sprintf("unknown kind %q", m.Kind)), nil
	}
	if err != nil {
		return Resolution{}, err
	}
	if res.Verdict != VerdictApplied {
		r.logger.Info("conflict resolved",
			"id", m.ID, "target", m.Target.String(), "verdict", res.Verdict, "reason", res.Reason, "detail", res.Detail)
	}
	return res, nil
}

func (r *Resolver) deliverStock(ctx context.Context, m model.Mutation, canRetry bool) (Resolution, error) {
	d, err := m.StockDelta()
	if err != nil {
		return failed(model.ReasonRemoteRejected, nil, err.Error()), nil
	}

	pre, err := r.remote.Get(ctx, m.Target)
	if err != nil {
		return classify(err, nil)
	}
	rec, err := decodeStock(pre)
	if err != nil {
		return failed(model.ReasonRemoteRejected, &pre, err.Error()), nil
	}

	if model.WouldOversell(rec, d.Delta) && r.policy != model.OversellAllow {
		return failed(model.ReasonOversold, &pre,
			fmt.Sprintf("remote quantity %d, delta %d", rec.Quantity, d.Delta)), nil
	}

	want := rec.Quantity + d.Delta
	post, err := r.remote.Update(ctx, m.Target, map[string]any{model.FieldQuantity: want})
	if err != nil {
		if canRetry && model.ConflictReason(err) == model.ReasonConcurrentWrite {
			return r.deliverStock(ctx, m, false)
		}
		return classify(err, &pre)
	}

	got, err := decodeStock(post)
	if err != nil || got.Quantity != want {
		return failed(model.ReasonConcurrentWrite, &post,
			fmt.Sprintf("wrote quantity %d, remote now %d", want, got.Quantity)), nil
	}
	return written(pre, post), nil
}

func (r *Resolver) deliverCustomer(ctx context.Context, m model.Mutation, known Baseline, canRetry bool) (Resolution, error) {
	p, err := m.CustomerPatch()
	if err != nil {
		return failed(model.ReasonRemoteRejected, nil, err.Error()), nil
	}

	pre, err := r.remote.Get(ctx, m.Target)
	if err != nil {
		return classify(err, nil)
	}

	fields := p.Fields()
	if p.IsAccrual() {
		rec, err := decodeCustomer(pre)
		if err != nil {
			return failed(model.ReasonRemoteRejected, &pre, err.Error()), nil
		}
		fields[model.FieldPoints] = rec.Points + *p.PointsDelta
	} else {
		// The latest write by another client, including one seen only now.
		foreignAt := known.ForeignAt
		if !pre.UpdatedAt.Equal(known.OwnWriteAt) && pre.UpdatedAt.After(foreignAt) {
			foreignAt = pre.UpdatedAt
		}
		if foreignAt.After(m.BaseUpdatedAt) && !m.CreatedAt.After(foreignAt) {
			return Resolution{
				Verdict:  VerdictSuperseded,
				Doc:      &pre,
				Observed: pre.UpdatedAt,
				Detail: fmt.Sprintf("remote updated %s, patch made %s",
					foreignAt.Format(time.RFC3339Nano), m.CreatedAt.Format(time.RFC3339Nano)),
			}, nil
		}
	}

	post, err := r.remote.Update(ctx, m.Target, fields)
	if err != nil {
		if canRetry && model.ConflictReason(err) == model.ReasonConcurrentWrite {
			return r.deliverCustomer(ctx, m, known, false)
		}
		return classify(err, &pre)
	}

	if p.IsAccrual() {
		want := fields[model.FieldPoints].(int64)
		got, err := decodeCustomer(post)
		if err != nil || got.Points != want {
			return failed(model.ReasonConcurrentWrite, &post,
				fmt.Sprintf("wrote points %d, remote now %d", want, got.Points)), nil
		}
	}
	return written(pre, post), nil
}

func (r *Resolver) deliverReceipt(ctx context.Context, m model.Mutation) (Resolution, error) {
	post, err := r.remote.Create(ctx, m.Target, m.Payload)
	if err == nil {
		return Resolution{Verdict: VerdictApplied, Doc: &post, Written: true}, nil
	}
	if !errors.Is(err, model.ErrAlreadyExists) {
		if model.IsTransient(err) || ctx.Err() != nil {
			return Resolution{}, err
		}
		return failed(model.ReasonRemoteRejected, nil, err.Error()), nil
	}

	// An earlier delivery landed; the receipt is immutable so it is ours.
	res := Resolution{Verdict: VerdictApplied, Detail: "already exists"}
	if doc, getErr := r.remote.Get(ctx, m.Target); getErr == nil {
		res.Doc = &doc
	}
	return res, nil
}

// classify turns a remote error into a final failure, or passes it through
// when it should be retried.
func classify(err error, doc *model.Document) (Resolution, error) {
	switch {
	case model.IsTransient(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Resolution{}, err
	case remote.IsRemoteMissing(err):
		return failed(model.ReasonRemoteMissing, nil, err.Error()), nil
	case model.IsConflict(err):
		reason := model.ConflictReason(err)
		if reason == "" {
			reason = model.ReasonRemoteRejected
		}
		return failed(reason, doc, err.Error()), nil
	default:
		return Resolution{}, &model.TransientError{Op: "deliver", Err: err}
	}
}

func written(pre, post model.Document) Resolution {
	return Resolution{Verdict: VerdictApplied, Doc: &post, Written: true, Observed: pre.UpdatedAt}
}

func failed(reason model.FailureReason, doc *model.Document, detail string) Resolution {
	return Resolution{Verdict: VerdictFailed, Reason: reason, Doc: doc, Detail: detail}
}

func decodeCustomer(doc model.Document) (model.CustomerRecord, error) {
	var rec model.CustomerRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return rec, fmt.Errorf("decode remote customer %s: %w", doc.Ref, err)
	}
	return rec, nil
}

func decodeStock(doc model.Document) (model.StockRecord, error) {
	var rec model.StockRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return rec, fmt.Errorf("decode remote stock %s: %w", doc.Ref, err)
	}
	return rec, nil
}
