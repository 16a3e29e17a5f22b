package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/testutil"
)

func TestReconcileSnapshot_CreatesMissing(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	snap, err := l.ReconcileSnapshot(ctx, model.Document{
		Ref:       model.Ref(model.CollectionStock, "sku-9"),
		Data:      json.RawMessage(`{"item_id":"sku-9","quantity":3,"track_stock":true}`),
		UpdatedAt: testutil.Epoch,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), quantity(t, snap))
	assert.True(t, snap.RemoteUpdatedAt.Equal(testutil.Epoch))
}

func TestReconcileSnapshot_RebasesPendingDeltas(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	seedStock(t, l, "sku-1", 10, testutil.Epoch)
	queuedDelta(t, l, "sku-1", -2)
	queuedDelta(t, l, "sku-1", -1)

	// Another terminal sold 4 meanwhile.
	snap, err := l.ReconcileSnapshot(ctx, model.Document{
		Ref:       model.Ref(model.CollectionStock, "sku-1"),
		Data:      json.RawMessage(`{"item_id":"sku-1","quantity":6,"track_stock":true,"name":"Gummies"}`),
		UpdatedAt: testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), quantity(t, snap))

	rec, err := snap.Stock()
	require.NoError(t, err)
	assert.Equal(t, "Gummies", rec.Name, "uncovered fields take the remote value")
}

func TestReconcileSnapshot_KeepsPendingCustomerFields(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	seedCustomer(t, l, model.CustomerRecord{CustomerID: "c1", Name: "Ann", Points: 10}, testutil.Epoch)

	points := int64(40)
	m, err := model.NewCustomerUpdateMutation("c1", model.CustomerPatch{Points: &points})
	require.NoError(t, err)
	_, err = l.ApplyOptimistic(ctx, &m)
	require.NoError(t, err)

	snap, err := l.ReconcileSnapshot(ctx, model.Document{
		Ref:       model.Ref(model.CollectionCustomers, "c1"),
		Data:      json.RawMessage(`{"customer_id":"c1","name":"Ann B","points":12}`),
		UpdatedAt: testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)

	rec, err := snap.Customer()
	require.NoError(t, err)
	assert.Equal(t, int64(40), rec.Points)
	assert.Equal(t, "Ann B", rec.Name)
}

func TestReconcileSnapshot_IgnoresOlderDocument(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	seedStock(t, l, "sku-1", 10, testutil.Epoch.Add(time.Hour))

	snap, err := l.ReconcileSnapshot(ctx, model.Document{
		Ref:       model.Ref(model.CollectionStock, "sku-1"),
		Data:      json.RawMessage(`{"item_id":"sku-1","quantity":1}`),
		UpdatedAt: testutil.Epoch,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), quantity(t, snap))
}

func TestReconcileSnapshot_PreservesInconsistentFlag(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	seedStock(t, l, "sku-1", 10, testutil.Epoch)
	ref := model.Ref(model.CollectionStock, "sku-1")
	require.NoError(t, l.FlagInconsistent(ctx, ref, true))

	snap, err := l.ReconcileSnapshot(ctx, model.Document{
		Ref:       ref,
		Data:      json.RawMessage(`{"item_id":"sku-1","quantity":2}`),
		UpdatedAt: testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, snap.Inconsistent)
}

func TestMergeFields_PendingReceiptKeepsBody(t *testing.T) {
	r := model.Receipt{ReceiptID: "r1", Lines: []model.ReceiptLine{{ItemID: "sku-1", Quantity: 1}}}
	m, err := model.NewReceiptCreateMutation(r)
	require.NoError(t, err)

	local := json.RawMessage(`{"receipt_id":"r1","total":"5"}`)
	got, err := mergeFields(local, json.RawMessage(`{"receipt_id":"r1","total":"9"}`), []model.Mutation{m})
	require.NoError(t, err)
	assert.JSONEq(t, string(local), string(got))
}

func TestReconcileSnapshot_InFlightDeltaKeepsLocalQuantity(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	seedStock(t, l, "sku-1", 10, testutil.Epoch)
	inFlight := queuedDelta(t, l, "sku-1", -2)
	queuedDelta(t, l, "sku-1", -1)
	_, err := l.MarkInFlight(ctx, inFlight.ID)
	require.NoError(t, err)

	// The remote already took the in-flight -2; counting it again would show 5.
	snap, err := l.ReconcileSnapshot(ctx, model.Document{
		Ref:       model.Ref(model.CollectionStock, "sku-1"),
		Data:      json.RawMessage(`{"item_id":"sku-1","quantity":8,"track_stock":true}`),
		UpdatedAt: testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), quantity(t, snap))
}

func TestReconcileSnapshot_RebasesPendingAccrual(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	seedCustomer(t, l, model.CustomerRecord{CustomerID: "c1", Points: 100}, testutil.Epoch)

	earned := int64(10)
	m, err := model.NewCustomerUpdateMutation("c1", model.CustomerPatch{PointsDelta: &earned})
	require.NoError(t, err)
	snap, err := l.ApplyOptimistic(ctx, &m)
	require.NoError(t, err)
	rec, err := snap.Customer()
	require.NoError(t, err)
	assert.Equal(t, int64(110), rec.Points)

	snap, err = l.ReconcileSnapshot(ctx, model.Document{
		Ref:       model.Ref(model.CollectionCustomers, "c1"),
		Data:      json.RawMessage(`{"customer_id":"c1","points":105}`),
		UpdatedAt: testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	rec, err = snap.Customer()
	require.NoError(t, err)
	assert.Equal(t, int64(115), rec.Points)
}

func TestReconcile_TracksWriteOrigin(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	ref := model.Ref(model.CollectionCustomers, "c1")
	doc := func(at time.Time) model.Document {
		return model.Document{Ref: ref, Data: json.RawMessage(`{"customer_id":"c1"}`), UpdatedAt: at}
	}
	t1 := testutil.Epoch.Add(time.Minute)
	t2 := testutil.Epoch.Add(2 * time.Minute)
	t3 := testutil.Epoch.Add(3 * time.Minute)

	snap, err := l.ReconcileSnapshot(ctx, doc(testutil.Epoch))
	require.NoError(t, err)
	assert.True(t, snap.ForeignUpdatedAt.Equal(testutil.Epoch), "a pulled document is someone else's write")
	assert.True(t, snap.OwnWriteAt.IsZero())

	snap, err = l.ReconcileWrite(ctx, t1, doc(t2))
	require.NoError(t, err)
	assert.True(t, snap.ForeignUpdatedAt.Equal(t1), "the pre-write read saw a foreign write")
	assert.True(t, snap.OwnWriteAt.Equal(t2))

	// Reading back our own write is not a foreign write.
	snap, err = l.ReconcileSnapshot(ctx, doc(t2))
	require.NoError(t, err)
	assert.True(t, snap.ForeignUpdatedAt.Equal(t1))

	snap, err = l.ReconcileSnapshot(ctx, doc(t3))
	require.NoError(t, err)
	assert.True(t, snap.ForeignUpdatedAt.Equal(t3))

	// A stale document still leaves the markers alone.
	snap, err = l.ReconcileSnapshot(ctx, doc(t1))
	require.NoError(t, err)
	assert.True(t, snap.ForeignUpdatedAt.Equal(t3))
	assert.True(t, snap.RemoteUpdatedAt.Equal(t3))
}

func TestReconcileSnapshot_InFlightHidesOrigin(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	seedCustomer(t, l, model.CustomerRecord{CustomerID: "c1", Name: "Ann"}, testutil.Epoch)

	name := "Ann Lee"
	m, err := model.NewCustomerUpdateMutation("c1", model.CustomerPatch{Name: &name})
	require.NoError(t, err)
	_, err = l.ApplyOptimistic(ctx, &m)
	require.NoError(t, err)
	_, err = l.MarkInFlight(ctx, m.ID)
	require.NoError(t, err)

	// The document may carry the in-flight write itself.
	snap, err := l.ReconcileSnapshot(ctx, model.Document{
		Ref:       model.Ref(model.CollectionCustomers, "c1"),
		Data:      json.RawMessage(`{"customer_id":"c1","name":"Ann Lee"}`),
		UpdatedAt: testutil.Epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, snap.ForeignUpdatedAt.Equal(testutil.Epoch))
}
