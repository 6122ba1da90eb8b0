package harness

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/opflow/internal/evaluator"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Run      int         // 1-based run, 0 when not tied to a run
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []StepTrace // Steps of the run for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Run > 0 {
		fmt.Fprintf(&buf, " (run %d)", e.Run)
	}
	buf.WriteByte('\n')

	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for i, step := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", i+1, step.Name)
			if len(step.Discard) > 0 {
				fmt.Fprintf(&buf, " discard=%v", step.Discard)
			}
			if step.Waited {
				buf.WriteString(" waited")
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns
// the failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if a.Type == AssertSchedule {
			if err := assertSchedule(result.Schedule, a); err != nil {
				errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
			}
			continue
		}

		for _, n := range targetRuns(a, len(result.Runs)) {
			if n > len(result.Runs) {
				errs = append(errs, fmt.Sprintf("assertions[%d]: run %d was not recorded (%d runs)", i, n, len(result.Runs)))
				continue
			}
			if err := evaluateRunAssertion(n, result.Runs[n-1], a); err != nil {
				errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
			}
		}
	}
	return errs
}

// targetRuns returns the 1-based runs an assertion applies to.
func targetRuns(a Assertion, recorded int) []int {
	if a.Run > 0 {
		return []int{a.Run}
	}
	runs := make([]int, recorded)
	for i := range runs {
		runs[i] = i + 1
	}
	return runs
}

func evaluateRunAssertion(n int, run RunTrace, a Assertion) error {
	switch a.Type {
	case AssertResult:
		return assertResult(n, run, a)
	case AssertMode:
		return assertMode(n, run, a)
	case AssertStepOrder:
		return assertStepOrder(n, run, a)
	case AssertStepCount:
		return assertStepCount(n, run, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertResult compares the run's result with the expected value, within
// the assertion's absolute tolerance.
func assertResult(n int, run RunTrace, a Assertion) error {
	want, err := evaluator.ToValue(a.Value)
	if err != nil {
		return fmt.Errorf("result assertion: %w", err)
	}

	if diff := cmp.Diff(want, run.Result, cmpopts.EquateApprox(0, a.Tolerance)); diff != "" {
		return &AssertionError{
			Type:     AssertResult,
			Run:      n,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v (-want +got):\n%s", run.Result, diff),
			Trace:    run.Steps,
		}
	}
	return nil
}

func assertMode(n int, run RunTrace, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertMode, Run: n, Expected: expected, Actual: actual, Trace: run.Steps}
	}

	if a.Mode != "" && string(run.Mode) != a.Mode {
		return fail("mode "+a.Mode, "mode "+string(run.Mode))
	}
	if a.DelayFree != nil && run.DelayFree != *a.DelayFree {
		return fail(fmt.Sprintf("delay_free=%v", *a.DelayFree), fmt.Sprintf("delay_free=%v", run.DelayFree))
	}
	if a.Fallback != nil && run.Fallback != *a.Fallback {
		return fail(fmt.Sprintf("fallback=%v", *a.Fallback), fmt.Sprintf("fallback=%v", run.Fallback))
	}
	return nil
}

// assertStepOrder checks that the named steps appear in the specified
// order. Steps don't need to be consecutive.
func assertStepOrder(n int, run RunTrace, a Assertion) error {
	// Step 1: Find first position of each expected step
	positions := make(map[string]int)
	for i, step := range run.Steps {
		if positions[step.Name] == 0 {
			positions[step.Name] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all steps found
	for _, name := range a.Steps {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertStepOrder,
				Run:      n,
				Expected: fmt.Sprintf("all steps present: %v", a.Steps),
				Actual:   fmt.Sprintf("missing step: %s", name),
				Trace:    run.Steps,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(a.Steps); i++ {
		prev, curr := a.Steps[i-1], a.Steps[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertStepOrder,
				Run:      n,
				Expected: fmt.Sprintf("steps in order: %v", a.Steps),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: run.Steps,
			}
		}
	}
	return nil
}

// assertStepCount checks the number of steps, or of steps named a.Step.
func assertStepCount(n int, run RunTrace, a Assertion) error {
	count := len(run.Steps)
	what := "steps"
	if a.Step != "" {
		count = 0
		for _, step := range run.Steps {
			if step.Name == a.Step {
				count++
			}
		}
		what = "occurrences of " + a.Step
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertStepCount,
			Run:      n,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d %s", count, what),
			Trace:    run.Steps,
		}
	}
	return nil
}

func assertSchedule(state ScheduleState, a Assertion) error {
	if a.Cached != nil && state.Cached != *a.Cached {
		return &AssertionError{
			Type:     AssertSchedule,
			Expected: fmt.Sprintf("cached=%v", *a.Cached),
			Actual:   fmt.Sprintf("cached=%v (record found=%v)", state.Cached, state.Found),
		}
	}
	if a.Attempts != nil && state.Attempts != *a.Attempts {
		return &AssertionError{
			Type:     AssertSchedule,
			Expected: fmt.Sprintf("%d attempts left", *a.Attempts),
			Actual:   fmt.Sprintf("%d attempts left", state.Attempts),
		}
	}
	return nil
}
