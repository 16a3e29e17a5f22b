package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

const mutationColumns = `seq, id, collection, entity_id, kind, payload, created_at,
	attempt_count, status, reason, next_attempt_at, base_updated_at, updated_at`

// InsertMutation appends m to the active log and sets m.Seq.
// Seq comes from AUTOINCREMENT, so it never repeats even after deletes.
func (t *Tx) InsertMutation(ctx context.Context, m *model.Mutation) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO mutations (id, collection, entity_id, kind, payload, created_at,
			attempt_count, status, reason, next_attempt_at, base_updated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID,
		string(m.Target.Collection),
		m.Target.ID,
		string(m.Kind),
		string(m.Payload),
		formatTime(m.CreatedAt),
		m.AttemptCount,
		string(m.Status),
		string(m.Reason),
		formatTime(m.NextAttemptAt),
		formatTime(m.BaseUpdatedAt),
		formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert mutation %s: %w", m.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert mutation %s: last insert id: %w", m.ID, err)
	}
	m.Seq = seq
	return nil
}

// Mutation returns the active mutation with the given id.
// Returns an error wrapping model.ErrNotFound if it is not in the active log.
func (t *Tx) Mutation(ctx context.Context, id string) (model.Mutation, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE id = ?`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Mutation{}, fmt.Errorf("mutation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Mutation{}, fmt.Errorf("read mutation %s: %w", id, err)
	}
	return m, nil
}

// ListMutations returns active mutations in seq order, optionally filtered to
// the given statuses.
func (t *Tx) ListMutations(ctx context.Context, statuses ...model.MutationStatus) ([]model.Mutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM mutations`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, s := range statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY seq ASC`
	return t.queryMutations(ctx, query, args...)
}

// PendingForEntity returns the Queued and InFlight mutations targeting ref in
// seq order.
func (t *Tx) PendingForEntity(ctx context.Context, ref model.EntityRef) ([]model.Mutation, error) {
	return t.queryMutations(ctx, `
		SELECT `+mutationColumns+`
		FROM mutations
		WHERE collection = ? AND entity_id = ? AND status IN ('Queued', 'InFlight')
		ORDER BY seq ASC
	`, string(ref.Collection), ref.ID)
}

// NextQueued returns the lowest-seq Queued mutation, whether or not it is due
// yet. Returns false when nothing is queued.
func (t *Tx) NextQueued(ctx context.Context) (model.Mutation, bool, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+mutationColumns+`
		FROM mutations
		WHERE status = 'Queued'
		ORDER BY seq ASC
		LIMIT 1
	`)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Mutation{}, false, nil
	}
	if err != nil {
		return model.Mutation{}, false, fmt.Errorf("next queued: %w", err)
	}
	return m, true, nil
}

// StatusChange is a compare-and-set update of one mutation's status.
type StatusChange struct {
	ID            string
	From          model.MutationStatus
	To            model.MutationStatus
	AttemptCount  int
	Reason        model.FailureReason
	NextAttemptAt time.Time
	At            time.Time
}

// UpdateStatus applies c only if the mutation is currently in c.From.
// Returns false when no row matched.
func (t *Tx) UpdateStatus(ctx context.Context, c StatusChange) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE mutations
		SET status = ?, attempt_count = ?, reason = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(c.To),
		c.AttemptCount,
		string(c.Reason),
		formatTime(c.NextAttemptAt),
		formatTime(c.At),
		c.ID,
		string(c.From),
	)
	if err != nil {
		return false, fmt.Errorf("update mutation %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update mutation %s: rows affected: %w", c.ID, err)
	}
	return n == 1, nil
}

// ResetInFlight returns every InFlight mutation to Queued. Called at startup
// to recover deliveries interrupted by a crash.
func (t *Tx) ResetInFlight(ctx context.Context, at time.Time) (int64, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE mutations SET status = 'Queued', updated_at = ?
		WHERE status = 'InFlight'
	`, formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("reset in-flight: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of active mutations per status.
func (t *Tx) CountByStatus(ctx context.Context) (map[model.MutationStatus]int, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM mutations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count mutations: %w", err)
	}
	defer rows.Close()

	counts := map[model.MutationStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.MutationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// DeleteMutations removes every active mutation. Used by a forced reset.
func (t *Tx) DeleteMutations(ctx context.Context) (int64, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM mutations`)
	if err != nil {
		return 0, fmt.Errorf("delete mutations: %w", err)
	}
	return res.RowsAffected()
}

func (t *Tx) queryMutations(ctx context.Context, query string, args ...any) ([]model.Mutation, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	muts := []model.Mutation{}
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return muts, nil
}

func scanMutation(row rowScanner) (model.Mutation, error) {
	var (
		m                                   model.Mutation
		collection, kind, payload           string
		status, reason                      string
		createdAt, nextAttemptAt, updatedAt string
		baseUpdatedAt                       string
	)
	err := row.Scan(
		&m.Seq, &m.ID, &collection, &m.Target.ID, &kind, &payload, &createdAt,
		&m.AttemptCount, &status, &reason, &nextAttemptAt, &baseUpdatedAt, &updatedAt,
	)
	if err != nil {
		return model.Mutation{}, err
	}
	m.Target.Collection = model.Collection(collection)
	m.Kind = model.MutationKind(kind)
	m.Payload = []byte(payload)
	m.Status = model.MutationStatus(status)
	m.Reason = model.FailureReason(reason)

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Mutation{}, fmt.Errorf("parse created_at: %w", err)
	}
	if m.NextAttemptAt, err = parseTime(nextAttemptAt); err != nil {
		return model.Mutation{}, fmt.Errorf("parse next_attempt_at: %w", err)
	}
	if m.BaseUpdatedAt, err = parseTime(baseUpdatedAt); err != nil {
		return model.Mutation{}, fmt.Errorf("parse base_updated_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Mutation{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return m, nil
}
