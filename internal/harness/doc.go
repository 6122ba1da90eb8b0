// Package harness provides conformance testing for compiled programs.
//
// A scenario names a program definition, the inputs to bind, how the
// reference evaluator's operators behave and how many times to run. The
// harness compiles the program, executes it through the engine and
// asserts on the runs it recorded.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: chain
//	description: "A cached schedule replays the dynamic run"
//	program: ../programs/chain.cue
//	definition: chain
//	inputs: { u: [1, 2] }
//	operators:
//	  generic: { mass: 2 }
//	  diff: { d: 1 }
//	  flux: { avg: 0.5 }
//	  lift: 10
//	  grid: 3
//	exchange: { transport: countdown, polls: 2 }
//	compile: { aggregate: true }
//	runs: 2
//	restart: true
//	assertions:
//	  - type: result
//	    value: [6, 9]
//	  - type: mode
//	    run: 2
//	    mode: replay
//	    delay_free: true
//	  - type: step_order
//	    run: 1
//	    steps: [a, b]
//	  - type: schedule
//	    cached: true
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - result: Compares a run's result, within an optional tolerance
//   - mode: Checks a run's mode, delay_free and fallback flags
//   - step_order: Verifies steps appear in specified order
//   - step_count: Counts a run's steps, or the steps with one name
//   - schedule: Checks the persisted schedule after the last run
//
// Run-level assertions apply to one 1-based run, or to every run when run
// is omitted.
//
// # Deterministic Testing
//
// The harness uses:
//   - Fixed run ids ("<run_id>-<n>", run_id defaulting to "run")
//   - A fresh logical clock, so run n has seq n
//   - The countdown transport, whose exchanges become ready after a fixed
//     number of polls
//   - In-memory SQLite database (isolated per scenario)
//
// The trace is read back from the store, so golden files also cover what
// the run log persists.
package harness
