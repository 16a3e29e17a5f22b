package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/conflict"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/connectivity"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/engine"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/gate"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/ledger"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/remote"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/service"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/testutil"
)

// Scheduler timing for every scenario. Backoff waits are real sleeps, so
// they stay in milliseconds; everything else runs on the manual clock.
const (
	baseDelay          = time.Millisecond
	maxDelay           = 8 * time.Millisecond
	defaultMaxAttempts = 4
	waitTimeout        = 5 * time.Second
)

// collectionOrder is the order final state is reported in.
var collectionOrder = []model.Collection{
	model.CollectionStock,
	model.CollectionCustomers,
	model.CollectionReceipts,
}

// Harness is one scenario execution.
//
// The ledger lives in a temporary directory so a scenario can restart it.
// The remote, the connectivity monitor, the clock and the id generator
// outlive restarts: they stand for the network and the outside world.
type Harness struct {
	scenario *Scenario
	path     string
	policy   model.OversellPolicy

	clock   *testutil.ManualClock
	ids     *testutil.SequentialIDs
	remote  *remote.Memory
	monitor *connectivity.Monitor
	logger  *slog.Logger

	ledger    *ledger.Ledger
	scheduler *engine.Scheduler
	service   *service.Service

	// Set while the scheduler's Run loop is active.
	cancel context.CancelFunc
	done   chan error

	mu       sync.Mutex
	result   *Result
	seq      int64
	started  int
	finished int
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a fresh ledger and seed the in-memory remote
//  2. Execute steps in order, checking each step's expect clause
//  3. Stop the scheduler if a step started it
//  4. Collect final state and evaluate assertions
//
// A returned error means the scenario could not be executed at all; failed
// expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	policy, err := model.ParseOversellPolicy(scenario.Policy)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "posync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	clock := testutil.NewManualClock(testutil.Epoch)
	h := &Harness{
		scenario: scenario,
		path:     filepath.Join(dir, "ledger.db"),
		policy:   policy,
		clock:    clock,
		ids:      testutil.NewSequentialIDs("m"),
		remote:   remote.NewMemory(clock.Now),
		monitor:  connectivity.NewMonitor(scenario.Online, connectivity.WithClock(clock.Now)),
		logger:   slog.New(slog.DiscardHandler),
		result:   NewResult(),
	}

	ctx := context.Background()
	if err := h.open(ctx); err != nil {
		return nil, err
	}
	defer h.close()

	if err := h.seed(); err != nil {
		return nil, fmt.Errorf("failed to seed remote: %w", err)
	}

	for i, step := range scenario.Steps {
		h.runStep(ctx, i, step)
	}
	if err := h.stop(); err != nil {
		return nil, fmt.Errorf("failed to stop scheduler: %w", err)
	}

	if err := h.collect(ctx); err != nil {
		return nil, fmt.Errorf("failed to collect final state: %w", err)
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Ledger: h.ledger,
		Remote: h.remote,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// open builds the ledger and everything that depends on it.
func (h *Harness) open(ctx context.Context) error {
	l, err := ledger.Open(ctx, h.path,
		ledger.WithOversellPolicy(h.policy),
		ledger.WithNow(h.clock.Now),
		ledger.WithIDGenerator(h.ids),
		ledger.WithLogger(h.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	maxAttempts := h.scenario.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	sched := engine.New(l, conflict.NewResolver(h.remote, h.policy, h.logger), h.monitor,
		engine.Config{
			BaseDelay:      baseDelay,
			MaxDelay:       maxDelay,
			MaxAttempts:    maxAttempts,
			SafetyInterval: time.Hour,
			SettleDelay:    h.scenario.settleDelay(),
		},
		engine.WithObserver(h.observe),
		engine.WithNow(h.clock.Now),
		engine.WithLogger(h.logger),
	)
	g := gate.New(l, h.remote, h.monitor, h.clock.Now, h.logger)

	h.ledger = l
	h.scheduler = sched
	h.service = service.New(l, g, sched, h.monitor, h.remote,
		service.WithNow(h.clock.Now),
		service.WithLogger(h.logger),
	)
	return nil
}

func (h *Harness) close() {
	_ = h.stop()
	_ = h.ledger.Close()
}

func (h *Harness) seed() error {
	for i, s := range h.scenario.Remote {
		c, err := model.ParseCollection(s.Collection)
		if err != nil {
			return fmt.Errorf("remote[%d]: %w", i, err)
		}
		if _, err := h.remote.Put(model.Ref(c, s.ID), s.Data); err != nil {
			return fmt.Errorf("remote[%d]: %w", i, err)
		}
	}
	return nil
}

// runStep executes one step and records it in the trace. The trace slot is
// taken before the step runs, so scheduler events caused by the step always
// follow it.
func (h *Harness) runStep(ctx context.Context, i int, step Step) {
	idx := h.record(TraceEvent{Type: TraceStep, Action: step.Action, Args: step.Args})

	res, err := h.execute(ctx, step)
	outcome := "ok"
	if err != nil {
		outcome = model.ErrorCode(err)
	}

	h.mu.Lock()
	h.result.Trace[idx].Outcome = outcome
	h.result.Trace[idx].Result = res
	h.mu.Unlock()

	h.check(i, step, res, err, outcome)
}

// check validates a step against its expect clause. A step without one must
// succeed.
func (h *Harness) check(i int, step Step, res map[string]interface{}, err error, outcome string) {
	want := step.Expect
	switch {
	case want != nil && want.Error != "":
		if outcome != want.Error {
			h.result.AddError(fmt.Sprintf("step %d (%s): expected error %q, got %s", i, step.Action, want.Error, outcome))
		}
		return
	case err != nil:
		h.result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, step.Action, err))
		return
	case want == nil:
		return
	}

	for _, key := range sortedKeys(want.Result) {
		got, ok := res[key]
		if !ok {
			h.result.AddError(fmt.Sprintf("step %d (%s): result has no field %q", i, step.Action, key))
			continue
		}
		if !valuesEqual(got, want.Result[key]) {
			h.result.AddError(fmt.Sprintf("step %d (%s): result %s = %v, want %v", i, step.Action, key, got, want.Result[key]))
		}
	}
}

// record appends a trace event and returns its index.
func (h *Harness) record(ev TraceEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev.Seq = h.seq
	h.result.Trace = append(h.result.Trace, ev)
	return len(h.result.Trace) - 1
}

// observe receives scheduler events. Only events that say what happened to
// a mutation, plus pass starts, enter the trace.
func (h *Harness) observe(ev engine.Event) {
	switch ev.Type {
	case engine.EventPassStarted:
		h.mu.Lock()
		h.started++
		h.mu.Unlock()
	case engine.EventPassFinished:
		h.mu.Lock()
		h.finished++
		h.mu.Unlock()
		return
	case engine.EventResolved, engine.EventRetryScheduled, engine.EventReverted:
	default:
		return
	}
	h.record(TraceEvent{Type: TraceSync, Sync: &ev})
}

// quiet reports whether no drain pass is running.
func (h *Harness) quiet() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started == h.finished
}

// stop cancels the scheduler's Run loop and waits for it to return.
func (h *Harness) stop() error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	err := <-h.done
	h.cancel, h.done = nil, nil
	return err
}

func (h *Harness) collect(ctx context.Context) error {
	for _, c := range collectionOrder {
		snaps, err := h.ledger.Snapshots(ctx, c)
		if err != nil {
			return err
		}
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].Ref.ID < snaps[j].Ref.ID })
		for _, snap := range snaps {
			fields, err := decodeFields(snap.Data)
			if err != nil {
				return fmt.Errorf("%s: %w", snap.Ref, err)
			}
			h.result.State = append(h.result.State, EntityState{
				Ref:          snap.Ref,
				Fields:       fields,
				Inconsistent: snap.Inconsistent,
			})
		}
	}

	status, err := h.ledger.Status(ctx)
	if err != nil {
		return err
	}
	h.result.Status = status
	return nil
}

// decodeFields decodes an entity body keeping numbers exactly as written.
func decodeFields(data json.RawMessage) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	if len(data) == 0 {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
