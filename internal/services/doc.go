// Package services defines shared utilities consumed by the pipeline executor,
// the stage handlers, and the wrappers around external tools.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, step names, attempt numbers, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the executor
//     decide whether a failed step may be retried.
//   - A small command runner abstraction so external tool invocations can be
//     stubbed in tests.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
