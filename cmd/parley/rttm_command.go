package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"parley/internal/rttm"
	"parley/internal/transcript"
)

func newRTTMCommand() *cobra.Command {
	var outputPath string
	var summary bool

	cmd := &cobra.Command{
		Use:         "rttm <file>",
		Short:       "Convert an RTTM diarization file into segments JSON",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			intervals, err := rttm.ParseFile(args[0])
			if err != nil {
				return err
			}
			if summary {
				printSpeakerSummary(cmd.OutOrStdout(), intervals)
				return nil
			}
			if path := strings.TrimSpace(outputPath); path != "" {
				if err := transcript.SaveIntervals(path, intervals); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d segments to %s\n", len(intervals), path)
				return nil
			}
			if intervals == nil {
				intervals = []transcript.SpeakerInterval{}
			}
			return writeJSON(cmd, intervals)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write segments JSON to this path instead of stdout")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print per-speaker turn counts and talk time instead of segments")
	return cmd
}

func printSpeakerSummary(out io.Writer, intervals []transcript.SpeakerInterval) {
	type talk struct {
		turns   int
		seconds float64
	}
	bySpeaker := map[string]*talk{}
	total := 0.0
	for _, iv := range intervals {
		t, ok := bySpeaker[iv.Speaker]
		if !ok {
			t = &talk{}
			bySpeaker[iv.Speaker] = t
		}
		t.turns++
		t.seconds += iv.Duration()
		total += iv.Duration()
	}
	speakers := make([]string, 0, len(bySpeaker))
	for speaker := range bySpeaker {
		speakers = append(speakers, speaker)
	}
	sort.Strings(speakers)

	rows := make([][]string, 0, len(speakers))
	for _, speaker := range speakers {
		t := bySpeaker[speaker]
		share := 0.0
		if total > 0 {
			share = t.seconds / total * 100
		}
		rows = append(rows, []string{
			speaker,
			strconv.Itoa(t.turns),
			fmt.Sprintf("%.2f", t.seconds),
			fmt.Sprintf("%.1f%%", share),
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"Speaker", "Turns", "Seconds", "Share"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))
}
