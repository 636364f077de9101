package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"parley/internal/logs"
)

type logsOptions struct {
	step   string
	level  string
	lines  int
	follow bool
	raw    bool
	list   bool
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "Show a run log (the newest run by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if opts.list {
				runs, err := logs.ListRuns(cfg.Paths.LogDir)
				if err != nil {
					return err
				}
				printRunLogs(cmd.OutOrStdout(), runs)
				return nil
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			run, err := logs.FindRun(cfg.Paths.LogDir, id)
			if err != nil {
				return err
			}
			return showRunLog(cmd, run, opts)
		},
	}

	cmd.Flags().StringVar(&opts.step, "step", "", "Only show records for this step")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level to show (debug, info, warn, error)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of trailing records to show")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Keep printing records as they are written")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print JSON lines unchanged")
	cmd.Flags().BoolVar(&opts.list, "list", false, "List available run logs")
	return cmd
}

func showRunLog(cmd *cobra.Command, run logs.RunLog, opts logsOptions) error {
	filter := logs.Filter{Step: strings.TrimSpace(opts.step), MinLevel: strings.TrimSpace(opts.level)}
	out := cmd.OutOrStdout()
	emit := func(lines []string) {
		for _, line := range lines {
			if opts.raw {
				fmt.Fprintln(out, line)
				continue
			}
			fmt.Fprintln(out, formatLogLine(line))
		}
	}

	result, err := logs.Tail(cmd.Context(), run.Path, logs.TailOptions{Offset: -1, Limit: opts.lines, Match: filter.Match})
	if err != nil {
		return err
	}
	emit(result.Lines)
	if !opts.follow {
		return nil
	}

	followCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	offset := result.Offset
	for {
		result, err := logs.Tail(followCtx, run.Path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second, Match: filter.Match})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		emit(result.Lines)
		offset = result.Offset
	}
}

// formatLogLine renders a JSON record as "15:04:05 WARN  [step] message key=value".
// Lines that are not JSON pass through.
func formatLogLine(line string) string {
	rec, ok := logs.ParseRecord(line)
	if !ok {
		return line
	}
	var b strings.Builder
	if !rec.Time.IsZero() {
		b.WriteString(rec.Time.Local().Format("15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s ", strings.ToUpper(rec.Level))
	if rec.Step != "" {
		fmt.Fprintf(&b, "[%s] ", rec.Step)
	}
	b.WriteString(rec.Message)

	keys := make([]string, 0, len(rec.Attrs))
	for key := range rec.Attrs {
		switch key {
		case "ts", "level", "msg", "step", "run_id":
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, rec.Attrs[key])
	}
	return b.String()
}

func printRunLogs(out io.Writer, runs []logs.RunLog) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "Run logs: none")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.RunID,
			humanize.IBytes(uint64(max(run.Size, 0))),
			describeTime(run.ModTime),
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"Run", "Size", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	))
}
