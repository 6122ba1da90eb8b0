// Package ir provides the instruction model shared by the compiler and the
// engine: instructions, programs, schedules and the evaluator contract.
//
// ir imports only expr. The compiler produces Programs, the engine executes
// them, and evaluators implement the per-variant execution hooks.
//
// Key design constraints:
//   - Instructions are always handled by pointer; identity is pointer
//     identity, never structural equality.
//   - The variant set is closed. ExecutionMethod switches over Kind, and a
//     new variant must be added there and to Evaluator.
//   - Schedules refer to instructions by position, so a Program's
//     Instructions slice never changes after compilation.
package ir
