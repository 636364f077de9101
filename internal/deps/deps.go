// Package deps reports whether the external programs a pipeline invokes are
// installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"parley/internal/config"
)

// Requirement defines an external program a pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Requirement
	Path      string
	Available bool
	Detail    string
}

// Requirements lists the programs the configured pipeline will launch.
// Transcription tooling is only required when a transcribe step exists, which
// is always the case for the built-in pipeline.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "Cuts speaker slices"},
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Description: "Probes recording duration"},
		{Name: "uvx", Command: "uvx", Description: "Runs WhisperX transcription"},
	}
	if len(cfg.Diarization.Command) > 0 {
		reqs = append(reqs, Requirement{
			Name:        "Diarization",
			Command:     cfg.Diarization.Command[0],
			Description: "Produces RTTM speaker turns",
		})
	}
	for _, step := range cfg.Downstream {
		if len(step.Command) == 0 {
			continue
		}
		reqs = append(reqs, Requirement{
			Name:        "Downstream " + step.Name,
			Command:     step.Command[0],
			Description: "Downstream command step",
			Optional:    true,
		})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		switch {
		case req.Command == "":
			status.Detail = "command not configured"
		default:
			path, err := exec.LookPath(req.Command)
			if err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", req.Command)
				break
			}
			status.Path = path
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the unavailable required dependencies.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
