// Package service is the caller-facing API of the sync core. Point-of-sale
// code calls it to record sales and adjustments, read entities and inspect
// sync health. It never blocks on the network for writes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/connectivity"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/engine"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/gate"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/ledger"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/remote"
)

// Service wires the ledger, gate and scheduler behind one API.
type Service struct {
	ledger    *ledger.Ledger
	gate      *gate.Gate
	scheduler *engine.Scheduler
	monitor   *connectivity.Monitor
	remote    remote.Client

	pointsPerUnit decimal.Decimal
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPointsPerUnit sets loyalty points earned per currency unit spent.
// Zero disables accrual.
func WithPointsPerUnit(rate decimal.Decimal) Option {
	return func(s *Service) { s.pointsPerUnit = rate }
}

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service.
func New(l *ledger.Ledger, g *gate.Gate, sched *engine.Scheduler, m *connectivity.Monitor, c remote.Client, opts ...Option) *Service {
	s := &Service{
		ledger:        l,
		gate:          g,
		scheduler:     sched,
		monitor:       m,
		remote:        c,
		pointsPerUnit: decimal.NewFromInt(1),
		now:           time.Now,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service")
	return s
}

// SubmitStockDelta records a stock adjustment and returns the optimistic
// local record.
func (s *Service) SubmitStockDelta(ctx context.Context, itemID string, delta int64) (model.StockRecord, error) {
	m, err := model.NewStockDeltaMutation(itemID, delta)
	if err != nil {
		return model.StockRecord{}, err
	}
	snap, err := s.ledger.ApplyOptimistic(ctx, &m)
	if err != nil {
		return model.StockRecord{}, err
	}
	s.kick()
	return snap.Stock()
}

// SubmitCustomerUpdate records a partial customer update.
func (s *Service) SubmitCustomerUpdate(ctx context.Context, customerID string, patch model.CustomerPatch) error {
	m, err := model.NewCustomerUpdateMutation(customerID, patch)
	if err != nil {
		return err
	}
	if _, err := s.ledger.ApplyOptimistic(ctx, &m); err != nil {
		return err
	}
	s.kick()
	return nil
}

// SubmitSale records a completed sale: the receipt, one stock delta per line
// and, for an eligible customer, the loyalty points earned. Everything is
// queued atomically.
//
// A missing receipt id is generated; total and created_at are always computed
// locally.
func (s *Service) SubmitSale(ctx context.Context, r model.Receipt) (model.Receipt, error) {
	now := s.now().UTC()
	if r.ReceiptID == "" {
		r.ReceiptID = uuid.Must(uuid.NewV7()).String()
	}
	r.ReceiptID = model.NormalizeID(r.ReceiptID)
	r.CustomerID = model.NormalizeID(r.CustomerID)
	r.CreatedAt = now
	r.Total = r.ComputeTotal()
	r.PointsEarned = 0

	var (
		patchMut *model.Mutation
		err      error
	)
	if r.CustomerID != "" {
		patchMut, err = s.accruePoints(ctx, &r, now)
		if err != nil {
			return model.Receipt{}, err
		}
	}

	receiptMut, err := model.NewReceiptCreateMutation(r)
	if err != nil {
		return model.Receipt{}, err
	}
	muts := []*model.Mutation{&receiptMut}
	for _, line := range r.Lines {
		d, err := model.NewStockDeltaMutation(line.ItemID, -line.Quantity)
		if err != nil {
			return model.Receipt{}, err
		}
		muts = append(muts, &d)
	}
	if patchMut != nil {
		muts = append(muts, patchMut)
	}

	if _, err := s.ledger.ApplyBatch(ctx, muts); err != nil {
		return model.Receipt{}, err
	}
	s.logger.Info("sale recorded", "receipt_id", r.ReceiptID, "lines", len(r.Lines), "total", r.Total.String())
	s.kick()
	return r, nil
}

// accruePoints computes points for an eligible customer and returns the
// accrual that adds them. Eligibility is evaluated now, never cached.
func (s *Service) accruePoints(ctx context.Context, r *model.Receipt, now time.Time) (*model.Mutation, error) {
	snap, err := s.ledger.Snapshot(ctx, model.Ref(model.CollectionCustomers, r.CustomerID))
	if err != nil {
		return nil, fmt.Errorf("sale customer %s: %w", r.CustomerID, err)
	}
	cust, err := snap.Customer()
	if err != nil {
		return nil, err
	}
	if !cust.EligibleAt(now) || s.pointsPerUnit.IsZero() {
		return nil, nil
	}

	r.PointsEarned = r.Total.Mul(s.pointsPerUnit).Floor().IntPart()
	if r.PointsEarned <= 0 {
		return nil, nil
	}
	earned := r.PointsEarned
	m, err := model.NewCustomerUpdateMutation(r.CustomerID, model.CustomerPatch{PointsDelta: &earned})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadEntity reads through the freshness gate.
func (s *Service) ReadEntity(ctx context.Context, ref model.EntityRef) (gate.Result, error) {
	return s.gate.Read(ctx, ref)
}

// ReadStock reads a stock record through the freshness gate.
func (s *Service) ReadStock(ctx context.Context, itemID string) (gate.StockView, error) {
	return s.gate.ReadStock(ctx, itemID)
}

// ReadCustomer reads a customer through the freshness gate.
func (s *Service) ReadCustomer(ctx context.Context, customerID string) (gate.CustomerView, error) {
	return s.gate.ReadCustomer(ctx, customerID)
}

// Pull fetches an entity from the remote into the local cache so it can be
// changed while offline later.
func (s *Service) Pull(ctx context.Context, ref model.EntityRef) (model.Snapshot, error) {
	ref = model.Ref(ref.Collection, ref.ID)
	doc, err := s.remote.Get(ctx, ref)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("pull %s: %w", ref, err)
	}
	return s.ledger.ReconcileSnapshot(ctx, doc)
}

// Status is the sync health summary.
type Status struct {
	model.SyncStatus
	Online    bool         `json:"online"`
	Scheduler engine.State `json:"scheduler"`
	Stats     engine.Stats `json:"stats"`
}

// GetSyncStatus reports pending and failed counts and the last sync time.
func (s *Service) GetSyncStatus(ctx context.Context) (Status, error) {
	st, err := s.ledger.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		SyncStatus: st,
		Online:     s.monitor.Online(),
		Scheduler:  s.scheduler.State(),
		Stats:      s.scheduler.Stats(),
	}, nil
}

// DeadLetters lists mutations that need an operator decision.
func (s *Service) DeadLetters(ctx context.Context) ([]model.Mutation, error) {
	return s.ledger.DeadLetters(ctx)
}

// RetryDeadLetter requeues a dead letter with a fresh retry budget.
func (s *Service) RetryDeadLetter(ctx context.Context, id string) (model.Mutation, error) {
	m, err := s.ledger.RetryDeadLetter(ctx, id)
	if err != nil {
		return model.Mutation{}, err
	}
	s.kick()
	return m, nil
}

// DismissDeadLetter gives up on a dead letter.
func (s *Service) DismissDeadLetter(ctx context.Context, id string) error {
	return s.ledger.DismissDeadLetter(ctx, id)
}

// Sync runs one drain pass now.
func (s *Service) Sync(ctx context.Context) error {
	return s.scheduler.DrainOnce(ctx)
}

// Reset wipes the local ledger.
func (s *Service) Reset(ctx context.Context, force bool) (ledger.ResetResult, error) {
	return s.ledger.Reset(ctx, force)
}

func (s *Service) kick() {
	if s.monitor.Online() {
		s.scheduler.Trigger()
	}
}
