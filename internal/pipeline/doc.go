// Package pipeline runs a directed acyclic graph of named steps.
//
// A Definition lists steps with declared inputs and outputs; BuildGraph
// derives the dependency edges from matching paths and rejects cycles before
// anything runs. Executor.Run admits runnable steps in topological order onto
// a bounded set of workers, skips steps whose fingerprint is already cached
// with all outputs present, retries failures through the explicit state
// machine in state.go, and fails every transitive dependent of a step that
// exhausts its retries while independent branches continue.
//
// All per-run bookkeeping lives in a runState owned by a single Run call.
package pipeline
