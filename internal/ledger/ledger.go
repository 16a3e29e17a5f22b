package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/store"
)

// ErrPendingMutations is returned by Reset when unsynced work would be lost.
var ErrPendingMutations = errors.New("ledger has unsynced mutations")

// Ledger is the durable local operation log and snapshot cache.
//
// Thread-safety: all methods are safe for concurrent use; they are serialized
// by an internal mutex.
type Ledger struct {
	mu     sync.Mutex
	store  *store.Store
	policy model.OversellPolicy
	now    func() time.Time
	ids    IDGenerator
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithOversellPolicy sets how local stock deltas below zero are handled.
func WithOversellPolicy(p model.OversellPolicy) Option {
	return func(l *Ledger) {
		if p != "" {
			l.policy = p
		}
	}
}

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator overrides mutation id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(l *Ledger) {
		if g != nil {
			l.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Open opens (or creates) the ledger database at path and recovers from any
// interrupted delivery: every InFlight mutation is returned to Queued.
func Open(ctx context.Context, path string, opts ...Option) (*Ledger, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, &model.StorageError{Op: "open ledger", Err: err}
	}

	l := &Ledger{
		store:  st,
		policy: model.OversellDefer,
		now:    time.Now,
		ids:    UUIDv7Generator{},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")

	n, err := st.Reader().ResetInFlight(ctx, l.now())
	if err != nil {
		st.Close()
		return nil, &model.StorageError{Op: "recover in-flight", Err: err}
	}
	if n > 0 {
		l.logger.Info("recovered interrupted deliveries", "count", n)
	}
	return l, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Close()
}

// Policy returns the configured oversell policy.
func (l *Ledger) Policy() model.OversellPolicy {
	return l.policy
}

// write runs fn in one transaction. Domain errors pass through untouched;
// anything else is a storage failure.
func (l *Ledger) write(ctx context.Context, op string, fn func(tx *store.Tx) error) error {
	if err := l.store.WithTx(ctx, fn); err != nil {
		return storageErr(op, err)
	}
	return nil
}

func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrAlreadyExists),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, ErrPendingMutations):
		return err
	default:
		return &model.StorageError{Op: op, Err: err}
	}
}

// Snapshot returns the cached snapshot for ref.
func (l *Ledger) Snapshot(ctx context.Context, ref model.EntityRef) (model.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap, err := l.store.Reader().Entity(ctx, ref)
	return snap, storageErr("read snapshot", err)
}

// Snapshots returns every cached snapshot in a collection.
func (l *Ledger) Snapshots(ctx context.Context, c model.Collection) ([]model.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snaps, err := l.store.Reader().ListEntities(ctx, c)
	return snaps, storageErr("list snapshots", err)
}

// Mutation returns an active mutation by id.
func (l *Ledger) Mutation(ctx context.Context, id string) (model.Mutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.store.Reader().Mutation(ctx, id)
	return m, storageErr("read mutation", err)
}

// ListPending returns Queued and InFlight mutations in seq order.
func (l *Ledger) ListPending(ctx context.Context) ([]model.Mutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	muts, err := l.store.Reader().ListMutations(ctx, model.StatusQueued, model.StatusInFlight)
	return muts, storageErr("list pending", err)
}

// PendingFor returns the Queued and InFlight mutations targeting ref.
func (l *Ledger) PendingFor(ctx context.Context, ref model.EntityRef) ([]model.Mutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	muts, err := l.store.Reader().PendingForEntity(ctx, ref)
	return muts, storageErr("list entity pending", err)
}

// NextQueued returns the earliest Queued mutation (global FIFO), due or not.
func (l *Ledger) NextQueued(ctx context.Context) (model.Mutation, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok, err := l.store.Reader().NextQueued(ctx)
	return m, ok, storageErr("next queued", err)
}

// History returns archived mutations for ref; a zero ref returns all.
func (l *Ledger) History(ctx context.Context, ref model.EntityRef) ([]model.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, err := l.store.Reader().ListHistory(ctx, ref)
	return h, storageErr("list history", err)
}

// Status aggregates the log for the caller-facing sync status.
func (l *Ledger) Status(ctx context.Context) (model.SyncStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.store.Reader()
	counts, err := r.CountByStatus(ctx)
	if err != nil {
		return model.SyncStatus{}, storageErr("status", err)
	}
	status := model.SyncStatus{
		PendingCount: counts[model.StatusQueued] + counts[model.StatusInFlight],
		FailedCount:  counts[model.StatusFailed],
	}
	last, ok, err := r.MetaTime(ctx, store.MetaLastSync)
	if err != nil {
		return model.SyncStatus{}, storageErr("status", err)
	}
	if ok {
		status.LastSyncAt = &last
	}
	return status, nil
}

// ResetResult reports what Reset removed.
type ResetResult struct {
	Entities  int64 `json:"entities"`
	Mutations int64 `json:"mutations"`
	History   int64 `json:"history"`
}

// Reset wipes the local database. It refuses while Queued, InFlight or Failed
// mutations exist unless force is set.
func (l *Ledger) Reset(ctx context.Context, force bool) (ResetResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res ResetResult
	err := l.write(ctx, "reset", func(tx *store.Tx) error {
		counts, err := tx.CountByStatus(ctx)
		if err != nil {
			return err
		}
		outstanding := counts[model.StatusQueued] + counts[model.StatusInFlight] + counts[model.StatusFailed]
		if outstanding > 0 && !force {
			return fmt.Errorf("%w: %d outstanding", ErrPendingMutations, outstanding)
		}
		if res.Mutations, err = tx.DeleteMutations(ctx); err != nil {
			return err
		}
		if res.Entities, err = tx.DeleteEntities(ctx); err != nil {
			return err
		}
		if res.History, err = tx.DeleteHistory(ctx); err != nil {
			return err
		}
		return tx.DeleteMeta(ctx)
	})
	if err != nil {
		return ResetResult{}, err
	}
	l.logger.Warn("local ledger reset", "force", force, "mutations", res.Mutations, "entities", res.Entities)
	return res, nil
}
