package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario compiles one program, executes it a number of times against
// the reference evaluator and asserts on the recorded runs.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path to the CUE file holding the program definition.
	// Relative paths are resolved against the scenario file location when
	// loaded with LoadScenarioWithBasePath.
	Program string `yaml:"program"`

	// Definition selects a program by name when the file defines several.
	Definition string `yaml:"definition,omitempty"`

	// Inputs are the values bound before every run.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// Operators configures the evaluator's operator registry.
	Operators Operators `yaml:"operators,omitempty"`

	// Exchange configures the transport for exchanges. Nil means none.
	Exchange *Exchange `yaml:"exchange,omitempty"`

	// Compile holds compiler options.
	Compile CompileOptions `yaml:"compile,omitempty"`

	// Runs is how many times the program executes. Defaults to 1.
	Runs int `yaml:"runs,omitempty"`

	// Restart recompiles the program before every run after the first and
	// restores its schedule from the store, as a new process would.
	Restart bool `yaml:"restart,omitempty"`

	// RunID is the prefix of the fixed run ids "<run_id>-<n>".
	// If empty, defaults to "run".
	RunID string `yaml:"run_id,omitempty"`

	// Assertions validate the recorded runs.
	// Supported types: result, mode, step_order, step_count, schedule
	Assertions []Assertion `yaml:"assertions"`
}

// Operators maps operator names to the reference implementations: generic
// operators and fluxes scale by the given factor, differentiation operators
// take scaled forward differences.
type Operators struct {
	Generic map[string]float64 `yaml:"generic,omitempty"`
	Diff    map[string]float64 `yaml:"diff,omitempty"`
	Flux    map[string]float64 `yaml:"flux,omitempty"`

	// Lift scales lifted fluxes. Nil leaves lifting unregistered.
	Lift *float64 `yaml:"lift,omitempty"`

	// Grid registers the geometric quantities of this many nodes.
	Grid int `yaml:"grid,omitempty"`
}

// Exchange selects and configures the exchange transport.
type Exchange struct {
	// Transport is "countdown" (the default) or "loopback".
	Transport string `yaml:"transport,omitempty"`

	// Polls is how many readiness checks a countdown exchange needs.
	Polls int `yaml:"polls,omitempty"`

	// DelayMS delays loopback answers.
	DelayMS int `yaml:"delay_ms,omitempty"`
}

// CompileOptions mirrors the compiler options a scenario can set.
type CompileOptions struct {
	Aggregate  bool `yaml:"aggregate,omitempty"`
	MaxVectors int  `yaml:"max_vectors,omitempty"`
}

// Transport names.
const (
	TransportCountdown = "countdown"
	TransportLoopback  = "loopback"
)

// Assertion validates one run or the final schedule state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "result": Check a run's result value
	// - "mode": Check a run's mode and replay flags
	// - "step_order": Check steps appear in order
	// - "step_count": Check the number of steps, or of steps with one name
	// - "schedule": Check the persisted schedule after the last run
	Type string `yaml:"type"`

	// Run is the 1-based run the assertion applies to. Zero means every run.
	// Not used by schedule.
	Run int `yaml:"run,omitempty"`

	// Value is the expected result (used by result).
	Value any `yaml:"value,omitempty"`

	// Tolerance is the absolute tolerance for result comparison.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Mode is the expected run mode (used by mode).
	Mode string `yaml:"mode,omitempty"`

	// DelayFree and Fallback are checked when set (used by mode).
	DelayFree *bool `yaml:"delay_free,omitempty"`
	Fallback  *bool `yaml:"fallback,omitempty"`

	// Steps is the expected step order (used by step_order).
	Steps []string `yaml:"steps,omitempty"`

	// Step restricts step_count to steps with this name.
	Step string `yaml:"step,omitempty"`

	// Count is the expected number of steps (used by step_count).
	Count int `yaml:"count,omitempty"`

	// Cached and Attempts describe the expected schedule (used by schedule).
	Cached   *bool `yaml:"cached,omitempty"`
	Attempts *int  `yaml:"attempts,omitempty"`
}

// Assertion type constants.
const (
	AssertResult    = "result"
	AssertMode      = "mode"
	AssertStepOrder = "step_order"
	AssertStepCount = "step_count"
	AssertSchedule  = "schedule"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the program path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) && basePath != "" {
		scenario.Program = filepath.Join(basePath, scenario.Program)
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes a scenario without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// runCount returns the number of runs, defaulting to 1.
func (s *Scenario) runCount() int {
	if s.Runs <= 0 {
		return 1
	}
	return s.Runs
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Program == "" {
		return fmt.Errorf("program is required")
	}

	if _, err := os.Stat(s.Program); os.IsNotExist(err) {
		return fmt.Errorf("program file not found: %s", s.Program)
	}

	if s.Runs < 0 {
		return fmt.Errorf("runs must be non-negative")
	}

	if s.Exchange != nil {
		switch s.Exchange.Transport {
		case "", TransportCountdown, TransportLoopback:
		default:
			return fmt.Errorf("exchange: unknown transport %q", s.Exchange.Transport)
		}
		if s.Exchange.Polls < 0 || s.Exchange.DelayMS < 0 {
			return fmt.Errorf("exchange: polls and delay_ms must be non-negative")
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, s.runCount()); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	if a.Run < 0 || a.Run > runs {
		return fmt.Errorf("assertions[%d]: run %d is outside 1..%d", index, a.Run, runs)
	}

	switch a.Type {
	case AssertResult:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for result", index)
		}
		if a.Tolerance < 0 {
			return fmt.Errorf("assertions[%d]: tolerance must be non-negative", index)
		}
	case AssertMode:
		if a.Mode == "" && a.DelayFree == nil && a.Fallback == nil {
			return fmt.Errorf("assertions[%d]: mode, delay_free or fallback is required for mode", index)
		}
		switch a.Mode {
		case "", "dynamic", "replay":
		default:
			return fmt.Errorf("assertions[%d]: unknown mode %q", index, a.Mode)
		}
	case AssertStepOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for step_order", index)
		}
	case AssertStepCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for step_count", index)
		}
	case AssertSchedule:
		if a.Cached == nil && a.Attempts == nil {
			return fmt.Errorf("assertions[%d]: cached or attempts is required for schedule", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
