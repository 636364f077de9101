package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"parley/internal/alignment"
	"parley/internal/rttm"
	"parley/internal/stages"
	"parley/internal/transcript"
)

type alignOptions struct {
	segments       string
	rttm           string
	fragments      string
	output         string
	recording      string
	mergeThreshold float64
	tolerance      float64
}

func newAlignCommand(ctx *commandContext) *cobra.Command {
	var opts alignOptions

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Merge speaker segments and transcription fragments into a transcript",
		Long: "Align runs the alignment step once outside the pipeline. Speaker turns come from\n" +
			"segments JSON (--segments) or an RTTM file (--rttm).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("merge-threshold") {
				opts.mergeThreshold = cfg.Alignment.MergeThreshold
			}
			if !cmd.Flags().Changed("tolerance") {
				opts.tolerance = cfg.Alignment.NearestTolerance
			}
			return runAlign(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.segments, "segments", "", "Speaker segments JSON")
	cmd.Flags().StringVar(&opts.rttm, "rttm", "", "Speaker turns as RTTM")
	cmd.Flags().StringVar(&opts.fragments, "fragments", "", "Transcription fragments JSON")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the transcript to this path instead of stdout")
	cmd.Flags().StringVar(&opts.recording, "recording", "", "Recording name stored in the transcript")
	cmd.Flags().Float64Var(&opts.mergeThreshold, "merge-threshold", alignment.DefaultMergeThreshold, "Merge same-speaker fragments separated by less than this many seconds")
	cmd.Flags().Float64Var(&opts.tolerance, "tolerance", alignment.DefaultTolerance, "Snap fragments to the nearest speaker turn within this many seconds")
	_ = cmd.MarkFlagRequired("fragments")
	cmd.MarkFlagsMutuallyExclusive("segments", "rttm")
	cmd.MarkFlagsOneRequired("segments", "rttm")
	return cmd
}

func runAlign(cmd *cobra.Command, opts alignOptions) error {
	var intervals []transcript.SpeakerInterval
	var err error
	source := opts.segments
	if opts.rttm != "" {
		source = opts.rttm
		intervals, err = rttm.ParseFile(opts.rttm)
	} else {
		intervals, err = transcript.LoadIntervals(opts.segments)
	}
	if err != nil {
		return err
	}
	fragments, err := transcript.LoadFragments(opts.fragments)
	if err != nil {
		return err
	}

	recording := strings.TrimSpace(opts.recording)
	if recording == "" {
		recording = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	doc, warnings, err := stages.BuildDocument(stages.KindAlign, recording, intervals, fragments, alignment.Options{
		MergeThreshold: opts.mergeThreshold,
		Tolerance:      opts.tolerance,
	})
	if err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	for _, w := range warnings {
		fmt.Fprintf(errOut, "warning: %s %.2f-%.2f: %s\n", warningLabel(w.Kind), w.Start, w.End, w.Detail)
	}

	if opts.output == "" {
		if doc.Speakers == nil {
			doc.Speakers = []string{}
		}
		if doc.Utterances == nil {
			doc.Utterances = []transcript.Utterance{}
		}
		return writeJSON(cmd, doc)
	}
	if err := transcript.SaveDocument(opts.output, doc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d utterances from %d speakers to %s\n",
		len(doc.Utterances), len(doc.Speakers), opts.output)
	return nil
}
