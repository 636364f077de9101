// Package logs reads the per-run JSON logs written under log_dir.
//
// It locates run logs by full or abbreviated run ID, tails them with bounded
// memory, and filters records by step and level. Follow mode polls the file
// until new lines arrive or the caller's context ends.
package logs
