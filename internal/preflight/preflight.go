package preflight

import (
	"parley/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Workspace directory", cfg.Paths.WorkspaceDir),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	// Only the built-in pipeline reads the configured recording directly.
	if cfg.Pipeline.Definition == "" {
		results = append(results, CheckFileReadable("Recording", cfg.ResolveWorkspacePath(cfg.Pipeline.Audio)))
	}

	return append(results, DependencyResults(CheckSystemDeps(cfg))...)
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
