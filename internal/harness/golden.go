package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/engine"
)

// Render formats a scenario result as the line-oriented text stored in
// golden files:
//
//	scenario: offline_oversell
//	step stock delta=-2 item_id=tea -> ok quantity=1
//	sync pass
//	sync resolved m-0001 StockDelta stock/tea failed reason=Oversold attempt=1
//	state stock/tea {"item_id":"tea","quantity":1} inconsistent
//	status pending=0 failed=1
//
// Args and results are printed with sorted keys; non-string values use
// their JSON form.
func Render(name string, result *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for _, ev := range result.Trace {
		buf.WriteString(renderEvent(ev))
		buf.WriteByte('\n')
	}
	for _, st := range result.State {
		fmt.Fprintf(&buf, "state %s %s", st.Ref, formatValue(st.Fields))
		if st.Inconsistent {
			buf.WriteString(" inconsistent")
		}
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "status pending=%d failed=%d\n", result.Status.PendingCount, result.Status.FailedCount)
	return buf.Bytes()
}

func renderEvent(ev TraceEvent) string {
	if ev.Type == TraceStep {
		var b strings.Builder
		b.WriteString("step " + ev.Action)
		if args := formatFields(ev.Args); args != "" {
			b.WriteString(" " + args)
		}
		if ev.Outcome != "ok" {
			b.WriteString(" -> error " + ev.Outcome)
			return b.String()
		}
		b.WriteString(" -> ok")
		if res := formatFields(ev.Result); res != "" {
			b.WriteString(" " + res)
		}
		return b.String()
	}

	s := ev.Sync
	switch s.Type {
	case engine.EventPassStarted:
		return "sync pass"
	case engine.EventResolved:
		line := fmt.Sprintf("sync resolved %s %s %s %s", s.MutationID, s.Kind, s.Target, s.Verdict)
		if s.Reason != "" {
			line += " reason=" + string(s.Reason)
		}
		return line + fmt.Sprintf(" attempt=%d", s.Attempt)
	case engine.EventRetryScheduled:
		return fmt.Sprintf("sync retry %s %s attempt=%d delay=%s", s.MutationID, s.Target, s.Attempt, s.Delay)
	case engine.EventReverted:
		return fmt.Sprintf("sync reverted %s %s", s.MutationID, s.Target)
	default:
		return "sync " + string(s.Type)
	}
}

func formatFields(fields map[string]interface{}) string {
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		parts = append(parts, k+"="+formatValue(fields[k]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// RunWithGolden executes a scenario and compares its rendered trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
