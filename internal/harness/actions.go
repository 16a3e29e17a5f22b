package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/gate"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// action runs one step kind. Returned errors are step outcomes, reported by
// their error code.
type action func(h *Harness, ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

var actions = map[string]action{
	"pull":                (*Harness).pull,
	"read":                (*Harness).read,
	"stock":               (*Harness).stock,
	"customer":            (*Harness).customer,
	"sale":                (*Harness).sale,
	"remote_put":          (*Harness).remotePut,
	"remote_fail":         (*Harness).remoteFail,
	"remote_down":         (*Harness).remoteDown,
	"connectivity":        (*Harness).connectivity,
	"flap":                (*Harness).flap,
	"advance":             (*Harness).advance,
	"drain":               (*Harness).drain,
	"start":               (*Harness).start,
	"wait":                (*Harness).wait,
	"stop":                (*Harness).stopAction,
	"crash_in_flight":     (*Harness).crashInFlight,
	"restart":             (*Harness).restart,
	"retry_dead_letter":   (*Harness).retryDeadLetter,
	"dismiss_dead_letter": (*Harness).dismissDeadLetter,
}

var errInjected = errors.New("injected failure")

func (h *Harness) execute(ctx context.Context, step Step) (map[string]interface{}, error) {
	fn, ok := actions[step.Action]
	if !ok {
		return nil, model.NewValidationError("action", fmt.Sprintf("unknown action %q", step.Action))
	}
	return fn(h, ctx, step.Args)
}

// decodeArgs maps step args onto a typed struct through their JSON form.
func decodeArgs(args map[string]interface{}, v interface{}) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return model.NewValidationError("args", err.Error())
	}
	return nil
}

type refArgs struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (a refArgs) ref() (model.EntityRef, error) {
	c, err := model.ParseCollection(a.Collection)
	if err != nil {
		return model.EntityRef{}, err
	}
	return model.Ref(c, a.ID), nil
}

func parseRef(args map[string]interface{}) (model.EntityRef, error) {
	var a refArgs
	if err := decodeArgs(args, &a); err != nil {
		return model.EntityRef{}, err
	}
	return a.ref()
}

func (h *Harness) pull(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	ref, err := parseRef(args)
	if err != nil {
		return nil, err
	}
	_, err = h.service.Pull(ctx, ref)
	return nil, err
}

func (h *Harness) read(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	ref, err := parseRef(args)
	if err != nil {
		return nil, err
	}

	switch ref.Collection {
	case model.CollectionStock:
		v, err := h.service.ReadStock(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		res := annotations(v.Result)
		res["quantity"] = v.Record.Quantity
		res["out_of_stock"] = v.OutOfStock
		return res, nil

	case model.CollectionCustomers:
		v, err := h.service.ReadCustomer(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		res := annotations(v.Result)
		res["points"] = v.Record.Points
		res["eligible"] = v.Eligible
		return res, nil

	default:
		v, err := h.service.ReadEntity(ctx, ref)
		if err != nil {
			return nil, err
		}
		return annotations(v), nil
	}
}

func annotations(r gate.Result) map[string]interface{} {
	return map[string]interface{}{
		"source":  string(r.Source),
		"stale":   r.Stale,
		"pending": r.Pending,
	}
}

func (h *Harness) stock(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		ItemID string `json:"item_id"`
		Delta  int64  `json:"delta"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	rec, err := h.service.SubmitStockDelta(ctx, a.ItemID, a.Delta)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"quantity": rec.Quantity}, nil
}

func (h *Harness) customer(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		CustomerID string `json:"customer_id"`
		model.CustomerPatch
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, h.service.SubmitCustomerUpdate(ctx, a.CustomerID, a.CustomerPatch)
}

func (h *Harness) sale(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var r model.Receipt
	if err := decodeArgs(args, &r); err != nil {
		return nil, err
	}
	r, err := h.service.SubmitSale(ctx, r)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"receipt_id":    r.ReceiptID,
		"total":         r.Total.StringFixed(2),
		"points_earned": r.PointsEarned,
	}, nil
}

func (h *Harness) remotePut(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		refArgs
		Data map[string]interface{} `json:"data"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	ref, err := a.ref()
	if err != nil {
		return nil, err
	}
	_, err = h.remote.Put(ref, a.Data)
	return nil, err
}

func (h *Harness) remoteFail(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		Count int `json:"count"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	errs := make([]error, a.Count)
	for i := range errs {
		errs[i] = &model.TransientError{Op: "injected", Err: errInjected}
	}
	h.remote.FailNext(errs...)
	return nil, nil
}

func (h *Harness) remoteDown(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		Down bool `json:"down"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	h.remote.SetDown(a.Down)
	return nil, nil
}

func (h *Harness) connectivity(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		Online bool `json:"online"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	h.monitor.Set(a.Online)
	return nil, nil
}

func (h *Harness) flap(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		States []bool `json:"states"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	for _, online := range a.States {
		h.monitor.Set(online)
	}
	return nil, nil
}

func (h *Harness) advance(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		By string `json:"by"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(a.By)
	if err != nil {
		return nil, model.NewValidationError("by", err.Error())
	}
	h.clock.Advance(d)
	return nil, nil
}

func (h *Harness) drain(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	return nil, h.service.Sync(ctx)
}

// start runs the scheduler's Run loop in the background, as the daemon does.
func (h *Harness) start(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	if h.cancel != nil {
		return nil, errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	sched := h.scheduler
	go func() { done <- sched.Run(runCtx) }()
	h.cancel, h.done = cancel, done

	select {
	case <-sched.Ready():
		return nil, nil
	case <-time.After(waitTimeout):
		return nil, errors.New("scheduler did not start")
	}
}

// wait blocks until the running scheduler has emptied the queue and no pass
// is in progress.
func (h *Harness) wait(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	if h.cancel == nil {
		return nil, errors.New("scheduler not running")
	}
	deadline := time.Now().Add(waitTimeout)
	for {
		st, err := h.ledger.Status(ctx)
		if err != nil {
			return nil, err
		}
		if st.PendingCount == 0 && h.quiet() {
			return nil, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out with %d pending", st.PendingCount)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *Harness) stopAction(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	return nil, h.stop()
}

// crashInFlight leaves the queue head InFlight, as a process killed mid
// delivery would.
func (h *Harness) crashInFlight(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	m, ok, err := h.ledger.NextQueued(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("nothing queued: %w", model.ErrNotFound)
	}
	if m, err = h.ledger.MarkInFlight(ctx, m.ID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": m.ID}, nil
}

// restart closes and reopens the ledger, rebuilding the components that
// hold it. The scheduler is left stopped.
func (h *Harness) restart(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	if err := h.stop(); err != nil {
		return nil, err
	}
	if err := h.ledger.Close(); err != nil {
		return nil, err
	}
	return nil, h.open(ctx)
}

func (h *Harness) retryDeadLetter(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	m, err := h.service.RetryDeadLetter(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": string(m.Status)}, nil
}

func (h *Harness) dismissDeadLetter(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return nil, h.service.DismissDeadLetter(ctx, a.ID)
}
