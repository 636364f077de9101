// Package preflight provides readiness checks for the filesystem paths and
// external programs a parley run depends on.
//
// These checks run in two contexts:
//   - "parley run" calls RunAll before building the executor. If any check
//     fails the run aborts before a single step is admitted.
//   - "parley status" renders every individual result as a table.
package preflight
