// Package gate is the freshness gate: every read says whether the value came
// from the remote or from the local cache, and whether unsynced local changes
// are folded into it.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/connectivity"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/ledger"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/remote"
)

// Source says where a read was served from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// Result is an annotated read.
type Result struct {
	Snapshot model.Snapshot `json:"snapshot"`
	// Pending is true when Queued or InFlight mutations exist for the entity;
	// their fields hold the optimistic local value.
	Pending      bool `json:"pending"`
	PendingCount int  `json:"pending_count"`
	// Stale is true when the remote could not be consulted.
	Stale  bool   `json:"stale"`
	Source Source `json:"source"`
}

// Gate serves reads.
type Gate struct {
	ledger  *ledger.Ledger
	remote  remote.Client
	monitor *connectivity.Monitor
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a gate. A nil now uses time.Now.
func New(l *ledger.Ledger, c remote.Client, m *connectivity.Monitor, now func() time.Time, logger *slog.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{ledger: l, remote: c, monitor: m, now: now, logger: logger.With("component", "gate")}
}

// Read returns the freshest available view of ref.
//
// Online, the remote is queried directly and the result is merged into the
// ledger, so pending local changes still show. If the remote fails
// transiently the cached snapshot is returned as stale. Offline, the cached
// snapshot is returned as stale.
func (g *Gate) Read(ctx context.Context, ref model.EntityRef) (Result, error) {
	ref = model.Ref(ref.Collection, ref.ID)

	if g.monitor.Online() {
		doc, err := g.remote.Get(ctx, ref)
		switch {
		case err == nil:
			snap, err := g.ledger.ReconcileSnapshot(ctx, doc)
			if err != nil {
				return Result{}, err
			}
			return g.annotate(ctx, snap, SourceRemote, false)

		case remote.IsRemoteMissing(err):
			// The remote has never seen it; a receipt queued offline is the
			// usual case.
			snap, cerr := g.ledger.Snapshot(ctx, ref)
			if cerr != nil {
				return Result{}, fmt.Errorf("read %s: %w", ref, err)
			}
			return g.annotate(ctx, snap, SourceCache, false)

		case model.IsTransient(err):
			g.logger.Debug("remote read failed, serving cache", "ref", ref.String(), "error", err)

		default:
			return Result{}, fmt.Errorf("read %s: %w", ref, err)
		}
	}

	snap, err := g.ledger.Snapshot(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	return g.annotate(ctx, snap, SourceCache, true)
}

func (g *Gate) annotate(ctx context.Context, snap model.Snapshot, src Source, stale bool) (Result, error) {
	pending, err := g.ledger.PendingFor(ctx, snap.Ref)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Snapshot:     snap,
		Pending:      len(pending) > 0,
		PendingCount: len(pending),
		Stale:        stale,
		Source:       src,
	}, nil
}

// StockView is a stock read with derived flags.
type StockView struct {
	Result
	Record     model.StockRecord `json:"record"`
	OutOfStock bool              `json:"out_of_stock"`
	LowStock   bool              `json:"low_stock"`
}

// ReadStock reads a stock record.
func (g *Gate) ReadStock(ctx context.Context, itemID string) (StockView, error) {
	res, err := g.Read(ctx, model.Ref(model.CollectionStock, itemID))
	if err != nil {
		return StockView{}, err
	}
	rec, err := res.Snapshot.Stock()
	if err != nil {
		return StockView{}, err
	}
	return StockView{Result: res, Record: rec, OutOfStock: rec.IsOutOfStock(), LowStock: rec.IsLowStock()}, nil
}

// CustomerView is a customer read with eligibility evaluated at read time.
type CustomerView struct {
	Result
	Record   model.CustomerRecord `json:"record"`
	Eligible bool                 `json:"eligible"`
}

// ReadCustomer reads a customer. Eligibility is computed on every call and
// never stored.
func (g *Gate) ReadCustomer(ctx context.Context, customerID string) (CustomerView, error) {
	res, err := g.Read(ctx, model.Ref(model.CollectionCustomers, customerID))
	if err != nil {
		return CustomerView{}, err
	}
	rec, err := res.Snapshot.Customer()
	if err != nil {
		return CustomerView{}, err
	}
	return CustomerView{Result: res, Record: rec, Eligible: rec.EligibleAt(g.now())}, nil
}
