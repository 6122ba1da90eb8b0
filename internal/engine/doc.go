// Package engine executes compiled Programs.
//
// The engine owns scheduling only. All numerics belong to the evaluator
// passed to Execute, which runs instructions, issues futures for
// asynchronous work and evaluates the Program's result.
//
// ARCHITECTURE:
//
// Dynamic Scheduling:
// Each step picks the next unit of work from the current state:
//  1. The oldest outstanding future that reports ready
//  2. Otherwise the ready instruction with maximal priority, earliest
//     in program order on ties
//  3. Otherwise, if futures are outstanding, the oldest one, waited on
//     whether or not it is ready
//
// Before an instruction runs, every context name that no incomplete
// instruction needs and that the result does not read is discarded.
// A run that ends with instructions left over fails with an unreachable
// error naming them.
//
// Static Replay:
// A successful dynamic run is recorded as the Program's schedule, and the
// next Execute replays it step by step without re-deciding anything.
// A replay that has to wait on a future that is not ready is not
// delay-free and invalidates the schedule afterwards, spending one of the
// Program's capture attempts. Once the attempts are spent the Program is
// scheduled dynamically for good.
//
// A replay whose steps stop matching the Program (a different number of
// futures, an unknown future id, a missing instruction) is abandoned where
// it fails. The schedule is invalidated and the run finishes dynamically
// from the state the replay reached.
//
// CRITICAL PATTERNS:
//
// Single Goroutine:
// Execute never starts goroutines. Futures may complete work elsewhere,
// but they are polled and completed on the caller's goroutine.
//
// Logical Clock:
// Runs are stamped with a sequence number from Clock.Next(), never with
// wall-clock time.
//
// Deterministic Ids:
// Future ids count from 0 in issue order in every run, which is what lets
// a recorded schedule name futures.
package engine
