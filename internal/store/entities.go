package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

const entityColumns = `collection, entity_id, data, remote_updated_at,
	foreign_updated_at, own_write_at, inconsistent, updated_at`

// Entity returns the cached snapshot for ref.
// Returns an error wrapping model.ErrNotFound if the entity is not cached.
func (t *Tx) Entity(ctx context.Context, ref model.EntityRef) (model.Snapshot, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE collection = ? AND entity_id = ?
	`, string(ref.Collection), ref.ID)

	snap, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, fmt.Errorf("entity %s: %w", ref, model.ErrNotFound)
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("read entity %s: %w", ref, err)
	}
	return snap, nil
}

// PutEntity inserts or replaces a cached snapshot.
func (t *Tx) PutEntity(ctx context.Context, snap model.Snapshot) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, entity_id) DO UPDATE SET
			data = excluded.data,
			remote_updated_at = excluded.remote_updated_at,
			foreign_updated_at = excluded.foreign_updated_at,
			own_write_at = excluded.own_write_at,
			inconsistent = excluded.inconsistent,
			updated_at = excluded.updated_at
	`,
		string(snap.Ref.Collection),
		snap.Ref.ID,
		string(snap.Data),
		formatTime(snap.RemoteUpdatedAt),
		formatTime(snap.ForeignUpdatedAt),
		formatTime(snap.OwnWriteAt),
		snap.Inconsistent,
		formatTime(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("write entity %s: %w", snap.Ref, err)
	}
	return nil
}

// ListEntities returns every cached snapshot in a collection ordered by id.
func (t *Tx) ListEntities(ctx context.Context, c model.Collection) ([]model.Snapshot, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE collection = ?
		ORDER BY entity_id COLLATE BINARY ASC
	`, string(c))
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	snaps := []model.Snapshot{}
	for rows.Next() {
		snap, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return snaps, nil
}

// DeleteEntities removes every cached snapshot.
func (t *Tx) DeleteEntities(ctx context.Context) (int64, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM entities`)
	if err != nil {
		return 0, fmt.Errorf("delete entities: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (model.Snapshot, error) {
	var (
		snap                  model.Snapshot
		collection, data      string
		remoteUpdated, update string
		foreign, own          string
	)
	if err := row.Scan(&collection, &snap.Ref.ID, &data, &remoteUpdated, &foreign, &own, &snap.Inconsistent, &update); err != nil {
		return model.Snapshot{}, err
	}
	snap.Ref.Collection = model.Collection(collection)
	snap.Data = []byte(data)

	var err error
	if snap.RemoteUpdatedAt, err = parseTime(remoteUpdated); err != nil {
		return model.Snapshot{}, fmt.Errorf("parse remote_updated_at: %w", err)
	}
	if snap.ForeignUpdatedAt, err = parseTime(foreign); err != nil {
		return model.Snapshot{}, fmt.Errorf("parse foreign_updated_at: %w", err)
	}
	if snap.OwnWriteAt, err = parseTime(own); err != nil {
		return model.Snapshot{}, fmt.Errorf("parse own_write_at: %w", err)
	}
	if snap.UpdatedAt, err = parseTime(update); err != nil {
		return model.Snapshot{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return snap, nil
}
