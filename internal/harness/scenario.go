package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a sync scenario: a seeded remote, a sequence of terminal
// and network actions, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy is the oversell policy (reject, defer, allow). Empty means defer.
	Policy string `yaml:"policy,omitempty"`

	// Online is the initial connectivity state.
	Online bool `yaml:"online,omitempty"`

	// Settle is the scheduler's settle window after an online transition.
	Settle string `yaml:"settle,omitempty"`

	// MaxAttempts is the retry budget. Zero means 4.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Remote seeds the in-memory system of record before any step runs.
	Remote []Seed `yaml:"remote,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and the sync trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Seed is one remote document.
type Seed struct {
	Collection string                 `yaml:"collection"`
	ID         string                 `yaml:"id"`
	Data       map[string]interface{} `yaml:"data"`
}

// Step is one action.
type Step struct {
	// Action names what to do (stock, sale, connectivity, drain, ...).
	Action string `yaml:"action"`

	// Args are the action arguments.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Expect checks the step outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Error is the expected error code (validation, not_found, ...).
	Error string `yaml:"error,omitempty"`

	// Result is a subset of the step's result fields.
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Assertion validates final state or the trace.
type Assertion struct {
	Type string `yaml:"type"`

	// entity, remote
	Collection   string                 `yaml:"collection,omitempty"`
	ID           string                 `yaml:"id,omitempty"`
	Fields       map[string]interface{} `yaml:"fields,omitempty"`
	Inconsistent *bool                  `yaml:"inconsistent,omitempty"`
	Missing      bool                   `yaml:"missing,omitempty"`

	// status
	Pending *int `yaml:"pending,omitempty"`
	Failed  *int `yaml:"failed,omitempty"`

	// mutation
	Status string `yaml:"status,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	// sync_count, remote_calls
	Event   string `yaml:"event,omitempty"`
	Verdict string `yaml:"verdict,omitempty"`
	Op      string `yaml:"op,omitempty"`
	Count   *int   `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertEntity      = "entity"
	AssertRemote      = "remote"
	AssertStatus      = "status"
	AssertMutation    = "mutation"
	AssertSyncCount   = "sync_count"
	AssertRemoteCalls = "remote_calls"
)

// LoadScenario reads, schema-checks and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains unknown
// fields (typos) or does not satisfy the scenario schema.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := ValidateSchema(raw); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	// Strict decoding catches typos the schema's open structs let through.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks what the schema cannot express.
func validateScenario(s *Scenario) error {
	if s.Settle != "" {
		if _, err := time.ParseDuration(s.Settle); err != nil {
			return fmt.Errorf("settle: %w", err)
		}
	}
	for i, step := range s.Steps {
		if step.Action == "advance" {
			by, _ := step.Args["by"].(string)
			if _, err := time.ParseDuration(by); err != nil {
				return fmt.Errorf("steps[%d].args.by: %w", i, err)
			}
		}
	}
	return nil
}

func (s *Scenario) settleDelay() time.Duration {
	d, _ := time.ParseDuration(s.Settle)
	return d
}
