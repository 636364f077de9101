// Package logging assembles structured slog loggers and formatting helpers used
// across parley.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can automatically
// tag log lines with run IDs, step names, attempts, and correlation IDs. Each
// pipeline run can additionally be teed into its own JSON log file under the
// configured log directory. The package also provides a no-op logger for tests
// and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
