package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func queued(t *testing.T, id, itemID string, delta int64) *model.Mutation {
	t.Helper()
	m, err := model.NewStockDeltaMutation(itemID, delta)
	require.NoError(t, err)
	m.ID = id
	m.CreatedAt = t0
	m.UpdatedAt = t0
	return &m
}

func insert(t *testing.T, s *Store, muts ...*model.Mutation) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		for _, m := range muts {
			if err := tx.InsertMutation(context.Background(), m); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestEntity_PutAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref := model.Ref(model.CollectionStock, "sku-1")

	_, err := s.Reader().Entity(ctx, ref)
	assert.ErrorIs(t, err, model.ErrNotFound)

	snap := model.Snapshot{
		Ref:             ref,
		Data:            []byte(`{"item_id":"sku-1","quantity":5}`),
		RemoteUpdatedAt: t0,
		UpdatedAt:       t0.Add(time.Second),
	}
	require.NoError(t, s.Reader().PutEntity(ctx, snap))

	got, err := s.Reader().Entity(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, string(snap.Data), string(got.Data))
	assert.True(t, got.RemoteUpdatedAt.Equal(t0))
	assert.False(t, got.Inconsistent)

	assert.True(t, got.OwnWriteAt.IsZero())

	snap.Inconsistent = true
	snap.ForeignUpdatedAt = t0
	snap.OwnWriteAt = t0.Add(time.Minute)
	require.NoError(t, s.Reader().PutEntity(ctx, snap))
	got, err = s.Reader().Entity(ctx, ref)
	require.NoError(t, err)
	assert.True(t, got.Inconsistent)
	assert.True(t, got.ForeignUpdatedAt.Equal(t0))
	assert.True(t, got.OwnWriteAt.Equal(t0.Add(time.Minute)))

	all, err := s.Reader().ListEntities(ctx, model.CollectionStock)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInsertMutation_SeqMonotonicAcrossDeletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := queued(t, "a", "sku-1", -1)
	b := queued(t, "b", "sku-1", -1)
	insert(t, s, a, b)
	assert.Less(t, a.Seq, b.Seq)

	moved, err := s.Reader().MoveToHistory(ctx, "b", model.StatusQueued, model.OutcomeDismissed, t0)
	require.NoError(t, err)
	require.True(t, moved)

	c := queued(t, "c", "sku-1", -1)
	insert(t, s, c)
	assert.Greater(t, c.Seq, b.Seq, "AUTOINCREMENT must not reuse a removed seq")
}

func TestInsertMutation_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, queued(t, "a", "sku-1", -1))

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertMutation(context.Background(), queued(t, "a", "sku-2", 1))
	})
	assert.Error(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.InsertMutation(context.Background(), queued(t, "a", "sku-1", -1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	muts, err := s.Reader().ListMutations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, muts)
}

func TestUpdateStatus_CompareAndSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insert(t, s, queued(t, "a", "sku-1", -1))

	ok, err := s.Reader().UpdateStatus(ctx, StatusChange{
		ID: "a", From: model.StatusQueued, To: model.StatusInFlight, At: t0,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Second attempt from the stale status matches nothing.
	ok, err = s.Reader().UpdateStatus(ctx, StatusChange{
		ID: "a", From: model.StatusQueued, To: model.StatusInFlight, At: t0,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	next := t0.Add(2 * time.Second)
	ok, err = s.Reader().UpdateStatus(ctx, StatusChange{
		ID: "a", From: model.StatusInFlight, To: model.StatusQueued,
		AttemptCount: 1, NextAttemptAt: next, At: t0,
	})
	require.NoError(t, err)
	require.True(t, ok)

	m, err := s.Reader().Mutation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, m.Status)
	assert.Equal(t, 1, m.AttemptCount)
	assert.True(t, m.NextAttemptAt.Equal(next))
}

func TestNextQueued_GlobalFIFO(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Reader().NextQueued(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	insert(t, s, queued(t, "a", "sku-1", -1), queued(t, "b", "sku-2", -1), queued(t, "c", "sku-1", -1))

	m, ok, err := s.Reader().NextQueued(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", m.ID)

	_, err = s.Reader().UpdateStatus(ctx, StatusChange{ID: "a", From: model.StatusQueued, To: model.StatusInFlight, At: t0})
	require.NoError(t, err)

	m, ok, err = s.Reader().NextQueued(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", m.ID)
}

func TestPendingForEntity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insert(t, s, queued(t, "a", "sku-1", -1), queued(t, "b", "sku-2", -1), queued(t, "c", "sku-1", -2))

	_, err := s.Reader().UpdateStatus(ctx, StatusChange{ID: "a", From: model.StatusQueued, To: model.StatusInFlight, At: t0})
	require.NoError(t, err)

	pending, err := s.Reader().PendingForEntity(ctx, model.Ref(model.CollectionStock, "sku-1"))
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, model.StatusInFlight, pending[0].Status)
	assert.Equal(t, "c", pending[1].ID)
}

func TestResetInFlight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insert(t, s, queued(t, "a", "sku-1", -1), queued(t, "b", "sku-1", -1))

	_, err := s.Reader().UpdateStatus(ctx, StatusChange{ID: "a", From: model.StatusQueued, To: model.StatusInFlight, At: t0})
	require.NoError(t, err)

	n, err := s.Reader().ResetInFlight(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err := s.Reader().CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusQueued])
	assert.Zero(t, counts[model.StatusInFlight])
}

func TestMoveToHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := queued(t, "a", "sku-1", -1)
	insert(t, s, a)

	// Wrong source status leaves the log alone.
	moved, err := s.Reader().MoveToHistory(ctx, "a", model.StatusInFlight, model.OutcomeApplied, t0)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = s.Reader().MoveToHistory(ctx, "a", model.StatusQueued, model.OutcomeApplied, t0)
	require.NoError(t, err)
	assert.True(t, moved)

	_, err = s.Reader().Mutation(ctx, "a")
	assert.ErrorIs(t, err, model.ErrNotFound)

	h, err := s.Reader().HistoryEntry(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a.Seq, h.Seq)
	assert.Equal(t, model.OutcomeApplied, h.Outcome)
	assert.Equal(t, model.KindStockDelta, h.Kind)

	entries, err := s.Reader().ListHistory(ctx, model.Ref(model.CollectionStock, "sku-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = s.Reader().HistoryEntry(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMeta(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Reader().MetaTime(ctx, MetaLastSync)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Reader().SetMetaTime(ctx, MetaLastSync, t0))
	at, ok, err := s.Reader().MetaTime(ctx, MetaLastSync)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(t0))
}
