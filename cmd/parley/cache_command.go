package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"parley/internal/artifactcache"
	"parley/internal/pipeline"
	"parley/internal/stage"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the artifact cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

// withCache opens the configured cache for the duration of fn.
func withCache(ctx *commandContext, fn func(*artifactcache.Cache) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	cache, err := artifactcache.OpenForConfig(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()
	return fn(cache)
}

// withLockedCache also holds the workspace lock so entries are not removed
// underneath a running pipeline.
func withLockedCache(ctx *commandContext, fn func(*artifactcache.Cache) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	lock, err := pipeline.LockWorkspace(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return withCache(ctx, fn)
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show artifact cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(ctx, func(cache *artifactcache.Cache) error {
				stats, err := cache.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database: %s\n", cache.Path())
				fmt.Fprintf(out, "Entries:  %d across %d steps\n", stats.Entries, stats.Steps)
				fmt.Fprintf(out, "Size:     %s\n", humanize.IBytes(uint64(max(stats.DBBytes, 0))))
				if stats.Entries > 0 {
					fmt.Fprintf(out, "Oldest:   %s\n", describeTime(stats.Oldest))
					fmt.Fprintf(out, "Newest:   %s\n", describeTime(stats.Newest))
				}
				return nil
			})
		},
	}
}

type cacheEntryView struct {
	Fingerprint string          `json:"fingerprint"`
	Step        string          `json:"step"`
	Outputs     []string        `json:"outputs"`
	Warnings    []stage.Warning `json:"warnings"`
	CreatedAt   time.Time       `json:"created_at"`
	Present     bool            `json:"outputs_present"`
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var step string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached step results, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return withCache(ctx, func(cache *artifactcache.Cache) error {
				entries, err := cache.List(cmd.Context(), strings.TrimSpace(step))
				if err != nil {
					return err
				}
				if jsonOutput {
					views := make([]cacheEntryView, 0, len(entries))
					for _, e := range entries {
						views = append(views, cacheEntryView{
							Fingerprint: e.Fingerprint,
							Step:        e.Step,
							Outputs:     e.Outputs,
							Warnings:    e.Warnings,
							CreatedAt:   e.CreatedAt,
							Present:     e.OutputsExist(),
						})
					}
					return writeJSON(cmd, views)
				}
				printCacheEntries(cmd.OutOrStdout(), entries, cfg.Paths.WorkspaceDir)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&step, "step", "", "Only list entries recorded for this step")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print entries as JSON")
	return cmd
}

func printCacheEntries(out io.Writer, entries []artifactcache.Entry, workspace string) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Cached results: none")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		outputs := make([]string, 0, len(e.Outputs))
		for _, path := range e.Outputs {
			outputs = append(outputs, workspaceRelative(workspace, path))
		}
		rows = append(rows, []string{
			e.Step,
			shortFingerprint(e.Fingerprint),
			strings.Join(outputs, ", "),
			fmt.Sprintf("%d", len(e.Warnings)),
			yesNo(e.OutputsExist()),
			describeTime(e.CreatedAt),
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"Step", "Fingerprint", "Outputs", "Warnings", "Present", "Cached"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop cached results whose outputs no longer exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLockedCache(ctx, func(cache *artifactcache.Cache) error {
				removed, err := cache.Prune(cmd.Context())
				if err != nil {
					return err
				}
				if removed == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No cache entries pruned")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d cache %s\n", removed, plural(removed, "entry", "entries"))
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached result; step outputs stay on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLockedCache(ctx, func(cache *artifactcache.Cache) error {
				removed, err := cache.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cache %s\n", removed, plural(int(removed), "entry", "entries"))
				return nil
			})
		},
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func describeTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04"), humanize.Time(t))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
