package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/engine"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/ledger"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/remote"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, renderEvent(event))
		}
	}

	return buf.String()
}

// syncEventTypes maps sync_count event names to scheduler events.
var syncEventTypes = map[string]engine.EventType{
	"pass":     engine.EventPassStarted,
	"resolved": engine.EventResolved,
	"retry":    engine.EventRetryScheduled,
	"reverted": engine.EventReverted,
}

// assertEntity checks a cached snapshot in the final state.
func assertEntity(result *Result, assertion Assertion) error {
	ref, err := assertionRef(assertion)
	if err != nil {
		return err
	}
	state, ok := result.Entity(ref)
	if assertion.Missing {
		if ok {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s not cached", ref),
				Actual:   "cached",
			}
		}
		return nil
	}
	if !ok {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s cached", ref),
			Actual:   "not cached",
		}
	}

	if assertion.Inconsistent != nil && *assertion.Inconsistent != state.Inconsistent {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s inconsistent=%t", ref, *assertion.Inconsistent),
			Actual:   fmt.Sprintf("inconsistent=%t", state.Inconsistent),
		}
	}
	return matchFields(AssertEntity, ref, state.Fields, assertion.Fields)
}

// assertRemote checks a document in the remote system of record.
func assertRemote(actx *AssertionContext, assertion Assertion) error {
	ref, err := assertionRef(assertion)
	if err != nil {
		return err
	}
	doc, ok := actx.Remote.Document(ref)
	if assertion.Missing {
		if ok {
			return &AssertionError{
				Type:     AssertRemote,
				Expected: fmt.Sprintf("%s absent from remote", ref),
				Actual:   "present",
			}
		}
		return nil
	}
	if !ok {
		return &AssertionError{
			Type:     AssertRemote,
			Expected: fmt.Sprintf("%s in remote", ref),
			Actual:   "absent",
		}
	}
	fields, err := decodeFields(doc.Data)
	if err != nil {
		return fmt.Errorf("remote %s: %w", ref, err)
	}
	return matchFields(AssertRemote, ref, fields, assertion.Fields)
}

// assertStatus checks the final pending and failed counts.
func assertStatus(result *Result, assertion Assertion) error {
	if assertion.Pending != nil && *assertion.Pending != result.Status.PendingCount {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: fmt.Sprintf("pending=%d", *assertion.Pending),
			Actual:   fmt.Sprintf("pending=%d", result.Status.PendingCount),
		}
	}
	if assertion.Failed != nil && *assertion.Failed != result.Status.FailedCount {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: fmt.Sprintf("failed=%d", *assertion.Failed),
			Actual:   fmt.Sprintf("failed=%d", result.Status.FailedCount),
		}
	}
	return nil
}

// assertMutation checks where a mutation ended up: its active status, or its
// outcome once it left the log.
func assertMutation(actx *AssertionContext, assertion Assertion) error {
	status, reason, err := mutationState(actx, assertion.ID)
	if err != nil {
		return err
	}
	if status != assertion.Status {
		return &AssertionError{
			Type:     AssertMutation,
			Expected: fmt.Sprintf("mutation %s %s", assertion.ID, assertion.Status),
			Actual:   status,
		}
	}
	if assertion.Reason != "" && reason != assertion.Reason {
		return &AssertionError{
			Type:     AssertMutation,
			Expected: fmt.Sprintf("mutation %s reason %s", assertion.ID, assertion.Reason),
			Actual:   fmt.Sprintf("reason %q", reason),
		}
	}
	return nil
}

func mutationState(actx *AssertionContext, id string) (status, reason string, err error) {
	m, err := actx.Ledger.Mutation(actx.Ctx, id)
	if err == nil {
		return string(m.Status), string(m.Reason), nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return "", "", err
	}

	history, err := actx.Ledger.History(actx.Ctx, model.EntityRef{})
	if err != nil {
		return "", "", err
	}
	for _, h := range history {
		if h.ID == id {
			return string(h.Outcome), "", nil
		}
	}
	return "missing", "", nil
}

// assertSyncCount checks how many times a scheduler event occurred.
func assertSyncCount(trace []TraceEvent, assertion Assertion) error {
	want, ok := syncEventTypes[assertion.Event]
	if !ok {
		return fmt.Errorf("sync_count: unknown event %q", assertion.Event)
	}
	count := 0
	for _, event := range trace {
		if event.Type != TraceSync || event.Sync.Type != want {
			continue
		}
		if assertion.Verdict != "" && string(event.Sync.Verdict) != assertion.Verdict {
			continue
		}
		count++
	}

	if assertion.Count == nil || count != *assertion.Count {
		expected := -1
		if assertion.Count != nil {
			expected = *assertion.Count
		}
		desc := assertion.Event
		if assertion.Verdict != "" {
			desc += " " + assertion.Verdict
		}
		return &AssertionError{
			Type:     AssertSyncCount,
			Expected: fmt.Sprintf("%d occurrences of %s", expected, desc),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRemoteCalls checks how many requests reached the remote.
func assertRemoteCalls(actx *AssertionContext, assertion Assertion) error {
	count := 0
	for _, c := range actx.Remote.Calls() {
		if assertion.Op == "" || c.Op == assertion.Op {
			count++
		}
	}
	if assertion.Count == nil || count != *assertion.Count {
		expected := -1
		if assertion.Count != nil {
			expected = *assertion.Count
		}
		op := assertion.Op
		if op == "" {
			op = "any"
		}
		return &AssertionError{
			Type:     AssertRemoteCalls,
			Expected: fmt.Sprintf("%d %s calls", expected, op),
			Actual:   fmt.Sprintf("%d calls", count),
		}
	}
	return nil
}

func assertionRef(a Assertion) (model.EntityRef, error) {
	c, err := model.ParseCollection(a.Collection)
	if err != nil {
		return model.EntityRef{}, fmt.Errorf("%s assertion: %w", a.Type, err)
	}
	return model.Ref(c, a.ID), nil
}

// matchFields checks that actual contains every expected field (subset
// match). Extra fields in actual are ignored.
func matchFields(kind string, ref model.EntityRef, actual, expected map[string]interface{}) error {
	for _, key := range sortedKeys(expected) {
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q to exist", ref, key),
				Actual:   fmt.Sprintf("fields %v", sortedKeys(actual)),
			}
		}
		if !valuesEqual(got, expected[key]) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q = %v", ref, key, expected[key]),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}

// valuesEqual compares a decoded value with one written in a scenario.
// JSON numbers and YAML ints compare by their printed form.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

// AssertionContext provides what assertions inspect beyond the result.
type AssertionContext struct {
	Ctx    context.Context
	Ledger *ledger.Ledger
	Remote *remote.Memory
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides ledger and remote access; assertions that need
// it fail when it is nil.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEntity:
			err = assertEntity(result, assertion)
		case AssertStatus:
			err = assertStatus(result, assertion)
		case AssertSyncCount:
			err = assertSyncCount(result.Trace, assertion)
		case AssertRemote, AssertMutation, AssertRemoteCalls:
			if actx == nil || actx.Ledger == nil || actx.Remote == nil {
				err = fmt.Errorf("assertion[%d]: %s requires ledger and remote context", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertRemote:
				err = assertRemote(actx, assertion)
			case AssertMutation:
				err = assertMutation(actx, assertion)
			default:
				err = assertRemoteCalls(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
