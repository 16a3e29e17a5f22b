package harness

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/conflict"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/engine"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// scenarioDir holds the example scenarios, relative to this package.
const scenarioDir = "../../testdata/scenarios"

// TestGoldenScenarios runs every example scenario and compares its trace
// against testdata/golden. Regenerate with:
//
//	go test ./internal/harness -run TestGoldenScenarios -update
func TestGoldenScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRender_Format(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Seq: 1, Type: TraceStep, Action: "stock", Args: map[string]interface{}{"item_id": "tea", "delta": -2},
			Outcome: "ok", Result: map[string]interface{}{"quantity": int64(1)}},
		{Seq: 2, Type: TraceStep, Action: "read", Args: map[string]interface{}{"collection": "stock", "id": "ghost"},
			Outcome: "not_found"},
		{Seq: 3, Type: TraceStep, Action: "drain", Outcome: "ok"},
		{Seq: 4, Type: TraceSync, Sync: &engine.Event{Type: engine.EventPassStarted}},
		{Seq: 5, Type: TraceSync, Sync: &engine.Event{Type: engine.EventRetryScheduled, MutationID: "m-0001",
			Target: "stock/tea", Attempt: 1, Delay: 2 * time.Millisecond}},
		{Seq: 6, Type: TraceSync, Sync: &engine.Event{Type: engine.EventResolved, MutationID: "m-0001",
			Kind: model.KindStockDelta, Target: "stock/tea", Verdict: conflict.VerdictFailed,
			Reason: model.ReasonOversold, Attempt: 2}},
		{Seq: 7, Type: TraceSync, Sync: &engine.Event{Type: engine.EventReverted, MutationID: "m-0002", Target: "stock/tea"}},
	}
	result.State = []EntityState{{
		Ref:          model.Ref(model.CollectionStock, "tea"),
		Fields:       map[string]interface{}{"quantity": int64(1), "item_id": "tea"},
		Inconsistent: true,
	}}
	result.Status = model.SyncStatus{PendingCount: 1, FailedCount: 1}

	want := `scenario: demo
step stock delta=-2 item_id=tea -> ok quantity=1
step read collection=stock id=ghost -> error not_found
step drain -> ok
sync pass
sync retry m-0001 stock/tea attempt=1 delay=2ms
sync resolved m-0001 StockDelta stock/tea failed reason=Oversold attempt=2
sync reverted m-0002 stock/tea
state stock/tea {"item_id":"tea","quantity":1} inconsistent
status pending=1 failed=1
`
	assert.Equal(t, want, string(Render("demo", result)))
}

func TestRender_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "retry_backoff.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, string(Render(scenario.Name, first)), string(Render(scenario.Name, second)))
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "restart_resets_inflight.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	AssertGolden(t, scenario.Name, result)
}
