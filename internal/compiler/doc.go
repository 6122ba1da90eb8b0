// Package compiler lowers expression trees into ir Programs.
//
// COMPILATION PIPELINE:
//
// 1. Each result root is wrapped in a common subexpression named "_result"
// 2. Types are inferred from the caller's hints (scalar vs. vector)
// 3. Fluxes are planned into batches, in rounds, so nested fluxes come first
// 4. Differentiations and exchanges are collected for batching
// 5. The tree is walked once, emitting one instruction per variable
// 6. Optionally, related vector assignments are merged (Aggregate)
//
// Memoization:
// Common subexpressions are memoized by the identity of their child node.
// Batched diffs, fluxes and exchanges are memoized by structural key, so
// structurally equal applications share one instruction slot.
//
// Naming:
// Generated names are "_expr0", "_expr1", ...; a CSE prefix names its
// variable directly, with "_2", "_3" suffixes on collision. Free variables
// of the input are reserved and never reassigned.
//
// Program definitions can also be loaded from CUE (LoadPrograms) and
// statically checked after compilation (Validate).
package compiler
