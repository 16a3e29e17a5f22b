package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// MoveToHistory removes the mutation from the active log and records it in
// mutation_history with the given outcome. The move only happens if the
// mutation is currently in status from. Returns false when no row matched.
func (t *Tx) MoveToHistory(ctx context.Context, id string, from model.MutationStatus, outcome model.Outcome, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO mutation_history (seq, id, collection, entity_id, kind, payload, outcome, created_at, resolved_at)
		SELECT seq, id, collection, entity_id, kind, payload, ?, created_at, ?
		FROM mutations
		WHERE id = ? AND status = ?
	`, string(outcome), formatTime(at), id, string(from))
	if err != nil {
		return false, fmt.Errorf("archive mutation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive mutation %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := t.q.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("remove mutation %s: %w", id, err)
	}
	return true, nil
}

// HistoryEntry returns the archived mutation with the given id.
// Returns an error wrapping model.ErrNotFound if it was never archived.
func (t *Tx) HistoryEntry(ctx context.Context, id string) (model.HistoryEntry, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT seq, id, collection, entity_id, kind, payload, outcome, created_at, resolved_at
		FROM mutation_history
		WHERE id = ?
	`, id)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryEntry{}, fmt.Errorf("history %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("read history %s: %w", id, err)
	}
	return h, nil
}

// ListHistory returns archived mutations for ref in seq order. A zero ref
// lists the whole history.
func (t *Tx) ListHistory(ctx context.Context, ref model.EntityRef) ([]model.HistoryEntry, error) {
	query := `
		SELECT seq, id, collection, entity_id, kind, payload, outcome, created_at, resolved_at
		FROM mutation_history`
	var args []any
	if ref != (model.EntityRef{}) {
		query += ` WHERE collection = ? AND entity_id = ?`
		args = append(args, string(ref.Collection), ref.ID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []model.HistoryEntry{}
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// DeleteHistory removes every archived mutation.
func (t *Tx) DeleteHistory(ctx context.Context) (int64, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM mutation_history`)
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	return res.RowsAffected()
}

func scanHistory(row rowScanner) (model.HistoryEntry, error) {
	var (
		h                              model.HistoryEntry
		collection, kind, payload      string
		outcome, createdAt, resolvedAt string
	)
	if err := row.Scan(&h.Seq, &h.ID, &collection, &h.Target.ID, &kind, &payload, &outcome, &createdAt, &resolvedAt); err != nil {
		return model.HistoryEntry{}, err
	}
	h.Target.Collection = model.Collection(collection)
	h.Kind = model.MutationKind(kind)
	h.Payload = []byte(payload)
	h.Outcome = model.Outcome(outcome)

	var err error
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("parse created_at: %w", err)
	}
	if h.ResolvedAt, err = parseTime(resolvedAt); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("parse resolved_at: %w", err)
	}
	return h, nil
}
