package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"parley/internal/artifactcache"
	"parley/internal/config"
	"parley/internal/logging"
	"parley/internal/pipeline"
	"parley/internal/preflight"
	"parley/internal/services"
)

type runOptions struct {
	definition    string
	workers       int
	force         bool
	json          bool
	skipPreflight bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [step...]",
		Short: "Run the pipeline, or the named steps and everything they depend on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, ctx, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.definition, "pipeline", "p", "", "Pipeline definition file (overrides pipeline.definition)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Maximum concurrent steps (overrides pipeline.workers)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Ignore cached results and remove outputs of the selected steps first")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the run summary as JSON")
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Skip directory and dependency checks")
	return cmd
}

func runPipeline(cmd *cobra.Command, ctx *commandContext, opts runOptions, targets []string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	base, err := ctx.logger()
	if err != nil {
		return err
	}

	if !opts.skipPreflight {
		if err := checkPreflight(cfg, opts.definition); err != nil {
			return err
		}
	}

	lock, err := pipeline.LockWorkspace(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	runID := uuid.NewString()
	runLogPath := ""
	logger := base
	if handler, closer, err := logging.OpenRunLog(cfg.Paths.LogDir, runID); err != nil {
		logging.WarnWithContext(base, "run log unavailable; continuing with console logging only", "run_log_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check log_dir permissions"),
			logging.String(logging.FieldImpact, "no per-run JSON log for this run"),
		)
	} else {
		defer closer.Close()
		runLogPath = logging.RunLogPath(cfg.Paths.LogDir, runID)
		logger = logging.TeeLogger(base, handler)
	}

	cache, err := artifactcache.OpenForConfig(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	def, reg, err := ctx.pipelineFor(opts.definition, logger)
	if err != nil {
		return err
	}

	workers := opts.workers
	if workers <= 0 {
		workers = cfg.Pipeline.Workers
	}
	executor, err := pipeline.NewExecutor(def, reg, pipeline.Options{
		Workers:        workers,
		DefaultRetries: cfg.Pipeline.DefaultRetries,
		Force:          opts.force,
		Cache:          cache,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = services.WithRunID(runCtx, runID)

	summary, runErr := executor.Run(runCtx, targets...)
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, runLogPath)
	if summary.RunID == "" {
		return runErr
	}

	if opts.json {
		if err := writeJSON(cmd, summary); err != nil {
			return err
		}
	} else {
		printRunSummary(cmd.OutOrStdout(), summary, cfg.Paths.WorkspaceDir, runLogPath)
	}
	return runErr
}

func checkPreflight(cfg *config.Config, definition string) error {
	if strings.TrimSpace(definition) != "" {
		copyCfg := *cfg
		copyCfg.Pipeline.Definition = definition
		cfg = &copyCfg
	}
	failed := preflight.Failed(preflight.RunAll(cfg))
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, result := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", result.Name, result.Detail))
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "run",
		strings.Join(parts, "; "), errors.New("run `parley status` for details or pass --skip-preflight"))
}

func printRunSummary(out io.Writer, summary pipeline.Summary, workspace, runLogPath string) {
	rows := make([][]string, 0, len(summary.Steps))
	for _, run := range summary.Steps {
		rows = append(rows, []string{
			run.Name,
			run.Kind,
			stepStatusLabel(run.Status),
			strconv.Itoa(run.Attempts),
			formatDuration(run.Duration()),
			runDetail(run, workspace),
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"Step", "Kind", "Status", "Attempts", "Duration", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))

	if len(summary.Warnings) > 0 {
		warnRows := make([][]string, 0, len(summary.Warnings))
		for _, w := range summary.Warnings {
			span := ""
			if w.End > 0 {
				span = fmt.Sprintf("%.2f-%.2f", w.Start, w.End)
			}
			warnRows = append(warnRows, []string{w.Step, warningLabel(w.Kind), span, w.Detail})
		}
		fmt.Fprintln(out, renderTable(out,
			[]string{"Step", "Warning", "Span (s)", "Detail"},
			warnRows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		))
	}

	counts := summary.Counts()
	outcome := "succeeded"
	switch {
	case summary.Canceled:
		outcome = "canceled"
	case !summary.Succeeded:
		outcome = "failed"
	}
	fmt.Fprintf(out, "Run %s %s: %d ran, %d cached, %d failed, %d pending (%s)\n",
		summary.RunID,
		outcome,
		counts[pipeline.StatusSucceeded],
		counts[pipeline.StatusSkippedCached],
		counts[pipeline.StatusFailed],
		counts[pipeline.StatusPending],
		formatDuration(summary.FinishedAt.Sub(summary.StartedAt)),
	)
	if runLogPath != "" {
		fmt.Fprintf(out, "Run log: %s\n", runLogPath)
	}
}

func runDetail(run pipeline.StepRun, workspace string) string {
	if run.Error != "" {
		return fmt.Sprintf("%s: %s", run.ErrorKind, run.Error)
	}
	if len(run.Outputs) == 0 {
		return ""
	}
	outputs := make([]string, 0, len(run.Outputs))
	for _, path := range run.Outputs {
		outputs = append(outputs, workspaceRelative(workspace, path))
	}
	return strings.Join(outputs, ", ")
}

func workspaceRelative(workspace, path string) string {
	if workspace == "" {
		return path
	}
	rel, err := filepath.Rel(workspace, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
