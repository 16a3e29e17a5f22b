package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/conflict"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/connectivity"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/ledger"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/remote"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/testutil"
)

type fixture struct {
	clock   *testutil.ManualClock
	mem     *remote.Memory
	ledger  *ledger.Ledger
	monitor *connectivity.Monitor
	sched   *Scheduler

	mu     sync.Mutex
	events []Event
}

func testConfig() Config {
	return Config{
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		MaxAttempts:    4,
		SafetyInterval: time.Hour,
	}
}

func newFixture(t *testing.T, online bool, cfg Config, wrap func(remote.Client) remote.Client) *fixture {
	t.Helper()
	f := &fixture{clock: testutil.NewManualClock(testutil.Epoch)}
	f.mem = remote.NewMemory(f.clock.Now)

	l, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"),
		ledger.WithNow(f.clock.Now),
		ledger.WithIDGenerator(testutil.NewSequentialIDs("m")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	f.ledger = l

	var client remote.Client = f.mem
	if wrap != nil {
		client = wrap(f.mem)
	}
	f.monitor = connectivity.NewMonitor(online, connectivity.WithClock(f.clock.Now))
	resolver := conflict.NewResolver(client, model.OversellDefer, nil)
	f.sched = New(l, resolver, f.monitor, cfg,
		WithNow(f.clock.Now),
		WithObserver(func(ev Event) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		}),
	)
	return f
}

func (f *fixture) seedStock(t *testing.T, itemID string, qty int64) {
	t.Helper()
	doc, err := f.mem.Put(model.Ref(model.CollectionStock, itemID),
		model.StockRecord{ItemID: itemID, Quantity: qty, TrackStock: true, AvailableForSale: true})
	require.NoError(t, err)
	_, err = f.ledger.ReconcileSnapshot(context.Background(), doc)
	require.NoError(t, err)
}

func (f *fixture) sell(t *testing.T, itemID string, delta int64) *model.Mutation {
	t.Helper()
	m, err := model.NewStockDeltaMutation(itemID, delta)
	require.NoError(t, err)
	_, err = f.ledger.ApplyOptimistic(context.Background(), &m)
	require.NoError(t, err)
	return &m
}

func (f *fixture) resolved() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.Type == EventResolved {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fixture) remoteQuantity(t *testing.T, itemID string) int64 {
	t.Helper()
	doc, ok := f.mem.Document(model.Ref(model.CollectionStock, itemID))
	require.True(t, ok)
	var rec model.StockRecord
	require.NoError(t, json.Unmarshal(doc.Data, &rec))
	return rec.Quantity
}

func TestDrainOnce_OfflineOversell(t *testing.T) {
	f := newFixture(t, false, testConfig(), nil)
	ctx := context.Background()
	f.seedStock(t, "sku-1", 5)

	f.sell(t, "sku-1", -3)
	f.sell(t, "sku-1", -3)

	snap, err := f.ledger.Snapshot(ctx, model.Ref(model.CollectionStock, "sku-1"))
	require.NoError(t, err)
	rec, err := snap.Stock()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), rec.Quantity)
	assert.True(t, rec.IsOutOfStock())

	// Offline: nothing happens.
	require.NoError(t, f.sched.DrainOnce(ctx))
	assert.Zero(t, f.sched.Stats().Passes)

	f.monitor.Set(true)
	require.NoError(t, f.sched.DrainOnce(ctx))

	assert.Equal(t, int64(2), f.remoteQuantity(t, "sku-1"))

	res := f.resolved()
	require.Len(t, res, 2)
	assert.Equal(t, conflict.VerdictApplied, res[0].Verdict)
	assert.Equal(t, conflict.VerdictFailed, res[1].Verdict)
	assert.Equal(t, model.ReasonOversold, res[1].Reason)

	snap, err = f.ledger.Snapshot(ctx, model.Ref(model.CollectionStock, "sku-1"))
	require.NoError(t, err)
	rec, err = snap.Stock()
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Quantity, "local snapshot reconciled to the remote value")
	assert.True(t, snap.Inconsistent)

	status, err := f.ledger.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)
	assert.Equal(t, 1, status.FailedCount)
	assert.Equal(t, StateIdle, f.sched.State())
}

func TestDrainOnce_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t, true, testConfig(), nil)
	ctx := context.Background()
	f.seedStock(t, "sku-1", 5)
	f.sell(t, "sku-1", -1)

	f.mem.FailNext(&model.TransientError{Op: "get", Err: assertErr("503")})
	require.NoError(t, f.sched.DrainOnce(ctx))

	stats := f.sched.Stats()
	assert.Equal(t, int64(1), stats.Retried)
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(4), f.remoteQuantity(t, "sku-1"))

	res := f.resolved()
	require.Len(t, res, 1)
	assert.Equal(t, 2, res[0].Attempt)

	var sawBackoff bool
	for _, ev := range f.events {
		if ev.Type == EventStateChanged && ev.State == StateBackoff {
			sawBackoff = true
		}
	}
	assert.True(t, sawBackoff)
}

func TestDrainOnce_RetryBudgetExhausted(t *testing.T) {
	f := newFixture(t, true, testConfig(), nil)
	ctx := context.Background()
	f.seedStock(t, "sku-1", 5)
	m := f.sell(t, "sku-1", -1)

	f.mem.SetDown(true)
	require.NoError(t, f.sched.DrainOnce(ctx))

	dead, err := f.ledger.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, m.ID, dead[0].ID)
	assert.Equal(t, model.ReasonRetryBudgetExhausted, dead[0].Reason)
	assert.Equal(t, int64(3), f.sched.Stats().Retried)
	assert.Len(t, f.mem.Calls(), 4)
}

func TestDrainOnce_PerEntityOrder(t *testing.T) {
	f := newFixture(t, true, testConfig(), nil)
	ctx := context.Background()
	f.seedStock(t, "sku-1", 50)
	f.seedStock(t, "sku-2", 50)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.sell(t, "sku-1", -1).ID)
		ids = append(ids, f.sell(t, "sku-2", -2).ID)
	}

	// A transient failure on the head must not let later mutations overtake it.
	f.mem.FailNext(&model.TransientError{Op: "get", Err: assertErr("timeout")})
	require.NoError(t, f.sched.DrainOnce(ctx))

	var got []string
	for _, ev := range f.resolved() {
		got = append(got, ev.MutationID)
	}
	assert.Equal(t, ids, got)
	assert.Equal(t, int64(47), f.remoteQuantity(t, "sku-1"))
	assert.Equal(t, int64(44), f.remoteQuantity(t, "sku-2"))
}

func TestDrainOnce_SupersededCustomerUpdate(t *testing.T) {
	f := newFixture(t, true, testConfig(), nil)
	ctx := context.Background()
	ref := model.Ref(model.CollectionCustomers, "c1")

	doc, err := f.mem.Put(ref, model.CustomerRecord{CustomerID: "c1", Points: 10})
	require.NoError(t, err)
	_, err = f.ledger.ReconcileSnapshot(ctx, doc)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	points := int64(15)
	m, err := model.NewCustomerUpdateMutation("c1", model.CustomerPatch{Points: &points})
	require.NoError(t, err)
	_, err = f.ledger.ApplyOptimistic(ctx, &m)
	require.NoError(t, err)

	// Head office edits the record after the local patch.
	f.clock.Advance(time.Second)
	_, err = f.mem.Put(ref, model.CustomerRecord{CustomerID: "c1", Points: 99})
	require.NoError(t, err)

	require.NoError(t, f.sched.DrainOnce(ctx))
	assert.Equal(t, int64(1), f.sched.Stats().Superseded)

	snap, err := f.ledger.Snapshot(ctx, ref)
	require.NoError(t, err)
	rec, err := snap.Customer()
	require.NoError(t, err)
	assert.Equal(t, int64(99), rec.Points)

	history, err := f.ledger.History(ctx, ref)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.OutcomeSuperseded, history[0].Outcome)
}

// gatedClient blocks every Get until released or the context ends.
type gatedClient struct {
	remote.Client
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedClient(c remote.Client) *gatedClient {
	return &gatedClient{Client: c, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedClient) Get(ctx context.Context, ref model.EntityRef) (model.Document, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return g.Client.Get(ctx, ref)
	case <-ctx.Done():
		return model.Document{}, ctx.Err()
	}
}

func TestDrainOnce_ConcurrentCallIsAbsorbed(t *testing.T) {
	var gate *gatedClient
	f := newFixture(t, true, testConfig(), func(c remote.Client) remote.Client {
		gate = newGatedClient(c)
		return gate
	})
	ctx := context.Background()
	f.seedStock(t, "sku-1", 5)
	f.sell(t, "sku-1", -1)

	done := make(chan error, 1)
	go func() { done <- f.sched.DrainOnce(ctx) }()
	<-gate.entered

	assert.Equal(t, StateDraining, f.sched.State())
	require.NoError(t, f.sched.DrainOnce(ctx))
	assert.Equal(t, int64(1), f.sched.Stats().Passes)

	close(gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), f.sched.Stats().Applied)
}

func TestDrainOnce_ShutdownRevertsInFlight(t *testing.T) {
	var gate *gatedClient
	f := newFixture(t, true, testConfig(), func(c remote.Client) remote.Client {
		gate = newGatedClient(c)
		return gate
	})
	f.seedStock(t, "sku-1", 5)
	m := f.sell(t, "sku-1", -1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.DrainOnce(ctx) }()
	<-gate.entered
	cancel()
	require.NoError(t, <-done)

	got, err := f.ledger.Mutation(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Zero(t, got.AttemptCount, "shutdown does not consume an attempt")
	assert.Equal(t, int64(1), f.sched.Stats().Reverted)
}

func TestRun_FlappingYieldsOnePass(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = 50 * time.Millisecond
	f := newFixture(t, false, cfg, nil)
	f.seedStock(t, "sku-1", 10)
	for i := 0; i < 3; i++ {
		f.sell(t, "sku-1", -1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()
	<-f.sched.Ready()

	f.monitor.Set(true)
	f.monitor.Set(false)
	f.monitor.Set(true)

	require.Eventually(t, func() bool {
		status, err := f.ledger.Status(context.Background())
		return err == nil && status.PendingCount == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(1), f.sched.Stats().Passes)
	assert.Equal(t, int64(3), f.sched.Stats().Applied)
	assert.Equal(t, int64(7), f.remoteQuantity(t, "sku-1"))
}

func TestRun_TriggerWhileOnline(t *testing.T) {
	f := newFixture(t, true, testConfig(), nil)
	f.seedStock(t, "sku-1", 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()
	<-f.sched.Ready()

	f.sell(t, "sku-1", -4)
	f.sched.Trigger()

	require.Eventually(t, func() bool {
		return f.sched.Stats().Applied == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int64(6), f.remoteQuantity(t, "sku-1"))
}

func TestDrainOnce_AfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	clock := testutil.NewManualClock(testutil.Epoch)
	mem := remote.NewMemory(clock.Now)

	l, err := ledger.Open(ctx, path, ledger.WithNow(clock.Now))
	require.NoError(t, err)
	doc, err := mem.Put(model.Ref(model.CollectionStock, "sku-1"), model.StockRecord{ItemID: "sku-1", Quantity: 5, TrackStock: true})
	require.NoError(t, err)
	_, err = l.ReconcileSnapshot(ctx, doc)
	require.NoError(t, err)

	m, err := model.NewStockDeltaMutation("sku-1", -2)
	require.NoError(t, err)
	_, err = l.ApplyOptimistic(ctx, &m)
	require.NoError(t, err)
	_, err = l.MarkInFlight(ctx, m.ID)
	require.NoError(t, err)
	// Crash: the process dies with the mutation InFlight.
	require.NoError(t, l.Close())

	l, err = ledger.Open(ctx, path, ledger.WithNow(clock.Now))
	require.NoError(t, err)
	defer l.Close()

	sched := New(l, conflict.NewResolver(mem, "", nil), connectivity.NewMonitor(true), testConfig())
	require.NoError(t, sched.DrainOnce(ctx))

	assert.Equal(t, int64(1), sched.Stats().Applied)
	status, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
