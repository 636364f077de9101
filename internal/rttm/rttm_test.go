package rttm_test

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"parley/internal/rttm"
	"parley/internal/services"
	"parley/internal/transcript"
)

const sample = `;; produced by pyannote
SPEAKER call 1 0.000 2.000 <NA> <NA> SPK0 <NA> <NA>

SPEAKER call 1 2.000 2.000 <NA> <NA> SPK1 <NA> <NA>
SPKR-INFO call 1 <NA> <NA> <NA> unknown SPK1 <NA> <NA>
SPEAKER call 1 3.500 1.250 <NA> <NA> SPK0 <NA> <NA>
`

func TestParse(t *testing.T) {
	intervals, err := rttm.Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []transcript.SpeakerInterval{
		{Speaker: "SPK0", Start: 0, End: 2, File: "call", Channel: "1"},
		{Speaker: "SPK1", Start: 2, End: 4, File: "call", Channel: "1"},
		{Speaker: "SPK0", Start: 3.5, End: 4.75, File: "call", Channel: "1"},
	}
	if len(intervals) != len(want) {
		t.Fatalf("got %d intervals, want %d", len(intervals), len(want))
	}
	for i := range want {
		if intervals[i] != want[i] {
			t.Fatalf("interval %d = %+v, want %+v", i, intervals[i], want[i])
		}
	}
}

func TestParseStableSortsByStart(t *testing.T) {
	input := strings.Join([]string{
		"SPEAKER f 1 5.0 1.0 <NA> <NA> B <NA> <NA>",
		"SPEAKER f 1 1.0 1.0 <NA> <NA> A <NA> <NA>",
		"SPEAKER f 1 1.0 2.0 <NA> <NA> C <NA> <NA>",
	}, "\n")
	intervals, err := rttm.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := []string{intervals[0].Speaker, intervals[1].Speaker, intervals[2].Speaker}
	if strings.Join(got, ",") != "A,C,B" {
		t.Fatalf("expected ties to keep record order, got %v", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
		reason   string
	}{
		{"short record", "SPEAKER f 1 0.0 1.0 <NA> <NA>", 1, "at least 8 fields"},
		{"negative start", "SPEAKER f 1 -0.5 1.0 <NA> <NA> A <NA> <NA>", 1, "negative"},
		{"zero duration", "\nSPEAKER f 1 0.5 0 <NA> <NA> A <NA> <NA>", 2, "must be positive"},
		{"bad number", "SPEAKER f 1 abc 1.0 <NA> <NA> A <NA> <NA>", 1, "not a number"},
		{"nan", "SPEAKER f 1 NaN 1.0 <NA> <NA> A <NA> <NA>", 1, "not finite"},
		{"missing speaker", "SPEAKER f 1 0.0 1.0 <NA> <NA> <NA> <NA> <NA>", 1, "missing speaker"},
		{"unknown type", "SPEAKR f 1 0.0 1.0 <NA> <NA> A <NA> <NA>", 1, "unknown record type"},
		{
			"same speaker overlap",
			"SPEAKER f 1 0.0 2.0 <NA> <NA> A <NA> <NA>\nSPEAKER f 1 1.0 2.0 <NA> <NA> B <NA> <NA>\nSPEAKER f 1 1.5 1.0 <NA> <NA> A <NA> <NA>",
			3, "overlaps its own turn from line 1",
		},
		{
			"overlap with earlier-starting later record",
			"SPEAKER f 1 4.0 2.0 <NA> <NA> A <NA> <NA>\nSPEAKER f 1 3.0 2.0 <NA> <NA> A <NA> <NA>",
			2, "from line 1 (4.000-6.000)",
		},
		{
			"unordered turns",
			"SPEAKER f 1 5.0 1.0 <NA> <NA> A <NA> <NA>\nSPEAKER f 1 0.0 1.0 <NA> <NA> A <NA> <NA>\nSPEAKER f 1 0.5 2.0 <NA> <NA> A <NA> <NA>",
			3, "overlaps its own turn from line 2",
		},
		{
			"long turn spans several",
			"SPEAKER f 1 0.0 10.0 <NA> <NA> A <NA> <NA>\nSPEAKER f 1 12.0 1.0 <NA> <NA> A <NA> <NA>\nSPEAKER f 1 11.0 0.5 <NA> <NA> B <NA> <NA>\nSPEAKER f 1 9.0 0.5 <NA> <NA> A <NA> <NA>",
			4, "from line 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rttm.Parse(strings.NewReader(tt.input))
			var formatErr *rttm.FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if formatErr.Line != tt.wantLine {
				t.Fatalf("line = %d, want %d (%v)", formatErr.Line, tt.wantLine, err)
			}
			if !strings.Contains(formatErr.Reason, tt.reason) {
				t.Fatalf("reason %q does not mention %q", formatErr.Reason, tt.reason)
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatal("FormatError should classify as validation")
			}
		})
	}
}

func TestParseFailsFastOnFirstBadLine(t *testing.T) {
	input := "SPEAKER f 1 0.0 1.0 <NA> <NA> A <NA> <NA>\nSPEAKER f 1 x 1.0 <NA> <NA> A\nSPEAKER f 1 -1 1.0 <NA> <NA> A <NA> <NA>"
	_, err := rttm.Parse(strings.NewReader(input))
	var formatErr *rttm.FormatError
	if !errors.As(err, &formatErr) || formatErr.Line != 2 {
		t.Fatalf("expected failure at line 2, got %v", err)
	}
}

func TestAdjacentSameSpeakerTurnsAreAllowed(t *testing.T) {
	input := "SPEAKER f 1 0.0 1.0 <NA> <NA> A <NA> <NA>\nSPEAKER f 1 1.0 1.0 <NA> <NA> A <NA> <NA>"
	intervals, err := rttm.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("touching turns should parse: %v", err)
	}
	if len(intervals) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(intervals))
	}
}

func TestParseLongRecording(t *testing.T) {
	const turns = 20000
	var b strings.Builder
	// Emitted latest-first so every turn arrives out of order.
	for i := turns - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "SPEAKER f 1 %d.000 1.000 <NA> <NA> SPK%d <NA> <NA>\n", i, i%3)
	}
	intervals, err := rttm.Parse(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(intervals) != turns || intervals[0].Start != 0 || intervals[turns-1].Start != turns-1 {
		t.Fatalf("unexpected result: %d intervals", len(intervals))
	}
}

func TestFormatRoundTrip(t *testing.T) {
	inputs := []string{
		sample,
		"SPEAKER rec 1 0.100 1.800 <NA> <NA> SPK0 <NA> <NA>\nSPEAKER rec 1 2.100 1.800 <NA> <NA> SPK1 <NA> <NA>\n",
		"SPEAKER rec 2 12.345 0.001 <NA> <NA> x <NA> <NA>\nSPEAKER rec 2 0.333 7.777 <NA> <NA> y <NA> <NA>\n",
	}
	for _, input := range inputs {
		first, err := rttm.Parse(strings.NewReader(input))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		var buf bytes.Buffer
		if err := rttm.Format(&buf, "ignored", first); err != nil {
			t.Fatalf("Format: %v", err)
		}
		second, err := rttm.Parse(&buf)
		if err != nil {
			t.Fatalf("reparse: %v\n%s", err, buf.String())
		}
		if len(first) != len(second) {
			t.Fatalf("length mismatch %d vs %d", len(first), len(second))
		}
		for i := range first {
			a, b := first[i], second[i]
			if a.Speaker != b.Speaker || math.Abs(a.Start-b.Start) > 1e-9 || math.Abs(a.End-b.End) > 1e-9 {
				t.Fatalf("round trip changed interval %d: %+v -> %+v", i, a, b)
			}
		}
	}
}

func TestFormatFillsRecording(t *testing.T) {
	var buf bytes.Buffer
	err := rttm.Format(&buf, "meeting", []transcript.SpeakerInterval{{Speaker: "A", Start: 1, End: 2.5}})
	if err != nil {
		t.Fatal(err)
	}
	want := "SPEAKER meeting 1 1.000 1.500 <NA> <NA> A <NA> <NA>\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestParseEmpty(t *testing.T) {
	intervals, err := rttm.Parse(strings.NewReader(";; nothing\n\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(intervals) != 0 {
		t.Fatalf("expected no intervals, got %d", len(intervals))
	}
}
