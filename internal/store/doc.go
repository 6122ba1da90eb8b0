// Package store provides SQLite-backed persistence for compiled programs,
// their cached schedules and the run log.
//
// A Program's schedule and retry budget normally live only as long as the
// Program. The store lets them outlive the process: RestoreSchedule
// installs what an earlier process recorded and SaveSchedule records the
// current state after a run.
//
// # Tables
//
//   - programs: content id (ir.ProgramID), name and text listing
//   - schedules: one canonical-JSON schedule and budget per program
//   - runs: append-only log of finished runs with their steps and result
//
// # Critical Patterns
//
// Logical Time:
//   - Runs are ordered by seq INTEGER (the engine's logical clock), never
//     by timestamps
//   - MaxSeq lets a new engine clock continue the log
//
// Deterministic Query Results:
//   - Run listings use ORDER BY seq ASC, id ASC COLLATE BINARY
//
// Canonical Columns:
//   - entries, steps and result are RFC 8785 canonical JSON, so equal
//     schedules store byte-identical text
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
