package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
online: false
settle: 50ms
remote:
  - collection: stock
    id: tea
    data: { item_id: tea, quantity: 3, track_stock: true }
steps:
  - action: pull
    args: { collection: stock, id: tea }
  - action: stock
    args: { item_id: tea, delta: -1 }
    expect:
      result: { quantity: 2 }
  - action: drain
assertions:
  - type: status
    pending: 1
  - type: sync_count
    event: pass
    count: 0
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, validScenario))
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.False(t, scenario.Online)
	assert.Equal(t, "50ms", scenario.Settle)
	require.Len(t, scenario.Remote, 1)
	assert.Equal(t, "tea", scenario.Remote[0].ID)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, "stock", scenario.Steps[1].Action)
	assert.Equal(t, -1, scenario.Steps[1].Args["delta"])
	require.NotNil(t, scenario.Steps[1].Expect)
	assert.Equal(t, 2, scenario.Steps[1].Expect.Result["quantity"])
	require.Len(t, scenario.Assertions, 2)
	require.NotNil(t, scenario.Assertions[0].Pending)
	assert.Equal(t, 1, *scenario.Assertions[0].Pending)
	require.NotNil(t, scenario.Assertions[1].Count)
	assert.Equal(t, 0, *scenario.Assertions[1].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("nonexistent.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, "name: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
	}{
		{"missing name", [2]string{"name: test_scenario\n", ""}},
		{"invalid name", [2]string{"name: test_scenario", "name: Test Scenario"}},
		{"empty description", [2]string{`description: "Test scenario for validation"`, `description: ""`}},
		{"unknown policy", [2]string{"online: false", "policy: lenient"}},
		{"bad settle duration", [2]string{"settle: 50ms", "settle: 50 millis"}},
		{"unknown collection", [2]string{"collection: stock\n    id: tea", "collection: orders\n    id: tea"}},
		{"unknown action", [2]string{"action: drain", "action: flush"}},
		{"missing args", [2]string{"action: pull\n    args: { collection: stock, id: tea }", "action: pull"}},
		{"unknown arg", [2]string{"args: { item_id: tea, delta: -1 }", "args: { item_id: tea, delta: -1, note: x }"}},
		{"unknown error code", [2]string{"result: { quantity: 2 }", "error: oops"}},
		{"unknown assertion type", [2]string{"type: status", "type: final_state"}},
		{"sync_count without count", [2]string{"    count: 0\n", ""}},
		{"negative count", [2]string{"count: 0", "count: -1"}},
		{"unknown top-level field", [2]string{"online: false", "online: false\nflow_token: abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := strings.Replace(validScenario, tt.replace[0], tt.replace[1], 1)
			require.NotEqual(t, validScenario, content, "replacement did not apply")

			_, err := ParseScenario([]byte(content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
		})
	}
}

func TestParseScenario_EmptySteps(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: empty
description: "No steps"
steps: []
`))
	require.Error(t, err)
}

func TestParseScenario_SaleLines(t *testing.T) {
	content := `
name: sale_lines
description: "Sale lines need a decimal unit price"
steps:
  - action: sale
    args:
      lines:
        - { item_id: tea, quantity: 2, unit_price: "3.50" }
`
	_, err := ParseScenario([]byte(content))
	require.NoError(t, err)

	_, err = ParseScenario([]byte(strings.Replace(content, `"3.50"`, `"3,50"`, 1)))
	require.Error(t, err)

	_, err = ParseScenario([]byte(strings.Replace(content, "quantity: 2", "quantity: 0", 1)))
	require.Error(t, err)
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "entity", AssertEntity)
	assert.Equal(t, "remote", AssertRemote)
	assert.Equal(t, "status", AssertStatus)
	assert.Equal(t, "mutation", AssertMutation)
	assert.Equal(t, "sync_count", AssertSyncCount)
	assert.Equal(t, "remote_calls", AssertRemoteCalls)
}

// TestLoadExampleScenarios validates the scenario files in testdata/scenarios.
// These serve as documentation and regression tests.
func TestLoadExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSuffix(filepath.Base(path), ".yaml"), scenario.Name)
			assert.NotEmpty(t, scenario.Assertions)
		})
	}
}
