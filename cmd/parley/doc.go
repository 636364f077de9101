// Package main hosts the parley CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration once, then hands work to the
// internal packages: the pipeline executor for runs and plans, the artifact
// cache for maintenance, and the rttm and alignment packages for one-shot
// conversions that do not need a workspace lock.
//
// Keep this package thin. New behaviour belongs in internal packages first
// and is surfaced here through a dedicated command or flag.
package main
