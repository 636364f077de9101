// Package stage defines the contract between the pipeline executor and the
// handlers that do a step's work.
//
// A handler receives a Request naming the step, its resolved input and output
// paths, and its parameters. It reads inputs from disk, writes every declared
// output, and returns any non-fatal warnings. Handlers never touch the
// artifact cache or another step's state.
package stage
