package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"parley/internal/artifactcache"
	"parley/internal/logging"
	"parley/internal/pipeline"
	"parley/internal/services"
	"parley/internal/stage"
)

// Plan actions.
const (
	planCached   = "cached"
	planRun      = "run"
	planUpstream = "run (upstream)"
	planForced   = "run (forced)"
	planBlocked  = "missing input"
)

type planEntry struct {
	Step        string   `json:"step"`
	Kind        string   `json:"kind"`
	DependsOn   []string `json:"depends_on"`
	Outputs     []string `json:"outputs"`
	Action      string   `json:"action"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var definition string
	var force bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "plan [step...]",
		Short: "Show execution order and which steps a run would execute",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			def, reg, err := ctx.pipelineFor(definition, logging.NewNop())
			if err != nil {
				return err
			}
			cache, err := artifactcache.OpenForConfig(cfg)
			if err != nil {
				return err
			}
			defer cache.Close()

			entries, err := buildPlan(cmd, def, reg, cache, force, args)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, entries)
			}
			printPlan(cmd.OutOrStdout(), entries, cfg.Paths.WorkspaceDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&definition, "pipeline", "p", "", "Pipeline definition file (overrides pipeline.definition)")
	cmd.Flags().BoolVar(&force, "force", false, "Plan as if --force were passed to run")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the plan as JSON")
	return cmd
}

// buildPlan predicts each selected step's fate. A step whose dependency will
// run is assumed to run too: its inputs cannot be fingerprinted until the
// dependency has rewritten them.
func buildPlan(cmd *cobra.Command, def pipeline.Definition, reg *stage.Registry, cache *artifactcache.Cache, force bool, targets []string) ([]planEntry, error) {
	graph, err := pipeline.BuildGraph(def.Steps)
	if err != nil {
		return nil, err
	}
	selected, err := graph.Closure(targets)
	if err != nil {
		return nil, err
	}

	willRun := make(map[string]bool, len(selected))
	entries := make([]planEntry, 0, len(selected))
	for _, name := range selected {
		step, _ := graph.Step(name)
		entry := planEntry{
			Step:      name,
			Kind:      step.Kind,
			DependsOn: graph.Dependencies(name),
			Outputs:   step.Outputs,
		}
		upstream := false
		for _, dep := range entry.DependsOn {
			upstream = upstream || willRun[dep]
		}

		switch {
		case force:
			entry.Action = planForced
		case upstream:
			entry.Action = planUpstream
		default:
			fp, err := pipeline.Fingerprint(step, reg.Resolve(step.Kind, step.Params))
			switch {
			case errors.Is(err, services.ErrMissingArtifact):
				entry.Action = planBlocked
			case err != nil:
				return nil, err
			default:
				entry.Fingerprint = fp
				entry.Action = planRun
				if cached, ok, err := cache.Lookup(cmd.Context(), fp); err == nil && ok && cached.OutputsCurrent() {
					entry.Action = planCached
				}
			}
		}
		willRun[name] = entry.Action != planCached
		entries = append(entries, entry)
	}
	return entries, nil
}

func printPlan(out io.Writer, entries []planEntry, workspace string) {
	rows := make([][]string, 0, len(entries))
	toRun := 0
	for i, entry := range entries {
		outputs := make([]string, 0, len(entry.Outputs))
		for _, path := range entry.Outputs {
			outputs = append(outputs, workspaceRelative(workspace, path))
		}
		if entry.Action != planCached {
			toRun++
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			entry.Step,
			entry.Kind,
			strings.Join(entry.DependsOn, ", "),
			strings.Join(outputs, ", "),
			entry.Action,
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"#", "Step", "Kind", "Depends On", "Outputs", "Action"},
		rows,
		[]columnAlignment{alignRight},
	))
	fmt.Fprintf(out, "%d of %d steps would run\n", toRun, len(entries))
}
