package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MetaLastSync records the time of the last successful delivery.
const MetaLastSync = "last_sync_at"

// Meta returns the value stored under key, or false if unset.
func (t *Tx) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := t.q.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta stores value under key.
func (t *Tx) SetMeta(ctx context.Context, key, value string) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// MetaTime reads a timestamp stored with SetMetaTime.
func (t *Tx) MetaTime(ctx context.Context, key string) (time.Time, bool, error) {
	v, ok, err := t.Meta(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := parseTime(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse meta %s: %w", key, err)
	}
	return at, !at.IsZero(), nil
}

// SetMetaTime stores a timestamp under key.
func (t *Tx) SetMetaTime(ctx context.Context, key string, at time.Time) error {
	return t.SetMeta(ctx, key, formatTime(at))
}

// DeleteMeta removes every meta key.
func (t *Tx) DeleteMeta(ctx context.Context) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM sync_meta`); err != nil {
		return fmt.Errorf("delete meta: %w", err)
	}
	return nil
}
