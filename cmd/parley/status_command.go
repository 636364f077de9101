package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/deps"
	"parley/internal/logging"
	"parley/internal/preflight"
	"parley/internal/stage"
	"parley/internal/stages"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check directories, external programs, and stage readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var lines []string
			lines = append(lines, renderSectionHeader("Configuration", colorize)...)
			lines = append(lines, configLines(cfg, ctx.configPath, colorize)...)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Directories", colorize)...)
			lines = append(lines, directoryLines(cfg, colorize)...)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
			lines = append(lines, dependencyLines(preflight.CheckSystemDeps(cfg), colorize)...)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Stages", colorize)...)
			reg := stages.NewRegistry(cfg, logging.NewNop())
			lines = append(lines, healthLines(reg.HealthChecks(cmd.Context()), colorize)...)

			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func configLines(cfg *config.Config, path string, colorize bool) []string {
	source := path
	if source == "" {
		source = "defaults"
	}
	definition := cfg.Pipeline.Definition
	if definition == "" {
		definition = fmt.Sprintf("built-in (%s mode)", cfg.Transcription.Mode)
	}
	return []string{
		renderStatusLine("Config", statusInfo, source, colorize),
		renderStatusLine("Workspace", statusInfo, cfg.Paths.WorkspaceDir, colorize),
		renderStatusLine("Pipeline", statusInfo, definition, colorize),
		renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d (retries %d)", cfg.Pipeline.Workers, cfg.Pipeline.DefaultRetries), colorize),
	}
}

func directoryLines(cfg *config.Config, colorize bool) []string {
	results := []preflight.Result{
		preflight.CheckDirectoryAccess("Workspace directory", cfg.Paths.WorkspaceDir),
		preflight.CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
		preflight.CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Pipeline.Definition == "" {
		results = append(results, preflight.CheckFileReadable("Recording", cfg.ResolveWorkspacePath(cfg.Pipeline.Audio)))
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		kind := statusOK
		if !r.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}
	return lines
}

// dependencyLines renders a summary line, one line per program, and a closing
// list of the required programs that are missing.
func dependencyLines(statuses []deps.Status, colorize bool) []string {
	missing := deps.Missing(statuses)
	lines := make([]string, 0, len(statuses)+2)

	available := 0
	for _, s := range statuses {
		if s.Available {
			available++
		}
	}
	summaryKind := statusOK
	summary := fmt.Sprintf("%d of %d available", available, len(statuses))
	if len(missing) > 0 {
		summaryKind = statusError
	}
	lines = append(lines, renderStatusLine("Summary", summaryKind, summary, colorize))

	for _, s := range statuses {
		switch {
		case s.Available:
			lines = append(lines, renderStatusLine(s.Name, statusOK, fmt.Sprintf("Ready (command: %s)", s.Command), colorize))
		case s.Optional:
			lines = append(lines, renderStatusLine(s.Name, statusWarn, s.Detail, colorize))
		default:
			lines = append(lines, renderStatusLine(s.Name, statusError, s.Detail, colorize))
		}
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, s := range missing {
			names = append(names, s.Name)
		}
		lines = append(lines, statusIndent+"Missing dependencies: "+strings.Join(names, ", "))
	}
	return lines
}

func healthLines(checks []stage.Health, colorize bool) []string {
	lines := make([]string, 0, len(checks))
	for _, h := range checks {
		if h.Ready {
			lines = append(lines, renderStatusLine(h.Name, statusOK, "Ready", colorize))
			continue
		}
		lines = append(lines, renderStatusLine(h.Name, statusError, h.Detail, colorize))
	}
	return lines
}
