package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/opflow/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string     `json:"scenario_name"`
	Program      string     `json:"program,omitempty"`
	Runs         []RunTrace `json:"runs"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles plain values.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	runs := make([]any, len(s.Runs))
	for i, run := range s.Runs {
		steps := make([]any, len(run.Steps))
		for j, step := range run.Steps {
			discard := step.Discard
			if discard == nil {
				discard = []string{}
			}
			steps[j] = map[string]any{
				"name":        step.Name,
				"discard":     discard,
				"new_futures": step.NewFutures,
				"waited":      step.Waited,
			}
		}
		runs[i] = map[string]any{
			"id":         run.ID,
			"seq":        run.Seq,
			"mode":       string(run.Mode),
			"delay_free": run.DelayFree,
			"fallback":   run.Fallback,
			"steps":      steps,
			"result":     run.Result,
		}
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"runs":          runs,
	}
	if s.Program != "" {
		result["program"] = s.Program
	}
	return result
}

// MarshalTrace renders result as the canonical JSON golden files hold.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Program:      result.Program,
		Runs:         result.Runs,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
