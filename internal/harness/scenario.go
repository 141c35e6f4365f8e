package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of operations over the stable
// structures, with assertions on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Clock is the initial clock reading in seconds.
	Clock uint64 `yaml:"clock,omitempty"`

	// CacheMaxItems is the capacity of every cached map. Zero means the
	// default capacity.
	CacheMaxItems int `yaml:"cache_max_items,omitempty"`

	// Steps run in order. A failing step is recorded in the trace and the
	// scenario continues.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is a single operation.
type Step struct {
	// Op is "<kind>.<operation>", e.g. "log.push".
	Op string `yaml:"op"`

	// Target names the structure. Defaults to "default".
	Target string `yaml:"target,omitempty"`

	// Identity scopes vec operations. Empty is the anonymous identity.
	Identity string `yaml:"identity,omitempty"`

	Value string `yaml:"value,omitempty"`
	Outer string `yaml:"outer,omitempty"`
	Inner string `yaml:"inner,omitempty"`
	Index uint64 `yaml:"index,omitempty"`

	// Secs is the argument of clock.advance, clock.set and task.recover
	// (stale-after threshold).
	Secs uint64 `yaml:"secs,omitempty"`

	// Task is the task enqueued by task.enqueue.
	Task *TaskSpec `yaml:"task,omitempty"`

	// Expect, if set, must equal the step result (compared as canonical
	// JSON).
	Expect any `yaml:"expect,omitempty"`

	// ExpectError, if set, must be a substring of the step error.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// TaskSpec describes a scripted task and its scheduling options.
type TaskSpec struct {
	Name string `yaml:"name"`

	// FailTimes is how many attempts fail before the task succeeds.
	FailTimes int `yaml:"fail_times,omitempty"`

	// Panic makes every attempt panic.
	Panic bool `yaml:"panic,omitempty"`

	// Spawn names tasks enqueued (with default options) on success.
	Spawn []string `yaml:"spawn,omitempty"`

	// After is the earliest execution time in seconds.
	After uint64 `yaml:"after,omitempty"`

	Retry   *RetrySpec   `yaml:"retry,omitempty"`
	Backoff *BackoffSpec `yaml:"backoff,omitempty"`
}

// RetrySpec selects a retry policy. Empty means no retries.
type RetrySpec struct {
	Max      *uint32 `yaml:"max,omitempty"`
	Infinite bool    `yaml:"infinite,omitempty"`
}

// BackoffSpec selects a backoff policy. Exactly one field may be set.
type BackoffSpec struct {
	None        bool             `yaml:"none,omitempty"`
	Fixed       *uint32          `yaml:"fixed,omitempty"`
	Exponential *ExponentialSpec `yaml:"exponential,omitempty"`
	Variable    []uint32         `yaml:"variable,omitempty"`
}

// ExponentialSpec is an exponential backoff.
type ExponentialSpec struct {
	Secs       uint32 `yaml:"secs"`
	Multiplier uint32 `yaml:"multiplier"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op is the operation (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Target restricts trace_contains to one structure.
	Target string `yaml:"target,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Kind is log, vec, map or task (final_state).
	Kind string `yaml:"kind,omitempty"`

	// Identity selects the vec scope (final_state).
	Identity string `yaml:"identity,omitempty"`

	// Expect is the expected final contents (final_state).
	Expect any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.CacheMaxItems < 0 {
		return fmt.Errorf("cache_max_items must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	if s.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", index)
	}
	if _, ok := operations[s.Op]; !ok {
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	if s.Op == "task.enqueue" {
		if s.Task == nil || s.Task.Name == "" {
			return fmt.Errorf("steps[%d]: task.name is required for task.enqueue", index)
		}
		if err := validateBackoff(s.Task.Backoff); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	} else if s.Task != nil {
		return fmt.Errorf("steps[%d]: task is only valid for task.enqueue", index)
	}
	if s.Identity != "" && !strings.HasPrefix(s.Op, "vec.") {
		return fmt.Errorf("steps[%d]: identity is only valid for vec operations", index)
	}
	return nil
}

func validateBackoff(b *BackoffSpec) error {
	if b == nil {
		return nil
	}
	set := 0
	if b.None {
		set++
	}
	if b.Fixed != nil {
		set++
	}
	if b.Exponential != nil {
		set++
	}
	if b.Variable != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("backoff must set exactly one of none, fixed, exponential, variable")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Kind {
		case "log", "vec", "map", "task":
		default:
			return fmt.Errorf("assertions[%d]: kind must be log, vec, map or task for final_state", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
