// Package rttm reads and writes diarization results in the RTTM format:
//
//	SPEAKER <file> <channel> <start> <duration> <NA> <NA> <speaker> <NA> <NA>
//
// Parsing is fail-fast. A malformed SPEAKER record aborts with a FormatError
// naming the offending line, since dropping a speaker turn would corrupt
// alignment downstream.
package rttm

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"parley/internal/services"
	"parley/internal/transcript"
)

const overlapEpsilon = 1e-6

// minSpeakerFields covers the record tag through the speaker name. The two
// trailing placeholders are optional.
const minSpeakerFields = 8

// Record types defined by RTTM that carry no speaker turn.
var ignoredTypes = map[string]struct{}{
	"SPKR-INFO":      {},
	"LEXEME":         {},
	"NON-LEX":        {},
	"NON-SPEECH":     {},
	"SEGMENT":        {},
	"FILLER":         {},
	"NOSCORE":        {},
	"NO_RT_METADATA": {},
	"EDIT":           {},
	"IP":             {},
	"SU":             {},
	"CB":             {},
	"A/P":            {},
}

// FormatError reports a malformed record.
type FormatError struct {
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("rttm line %d: %s", e.Line, e.Reason)
}

func (e *FormatError) Unwrap() error { return services.ErrValidation }

type parsed struct {
	interval transcript.SpeakerInterval
	line     int
}

// Parse reads RTTM records and returns speaker intervals stable-sorted by
// start. Blank lines, ";;" comments, and non-SPEAKER record types are skipped.
func Parse(r io.Reader) ([]transcript.SpeakerInterval, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []parsed
	bySpeaker := make(map[string][]parsed)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";;") {
			continue
		}
		fields := strings.Fields(line)
		tag := strings.ToUpper(fields[0])
		if tag != "SPEAKER" {
			if _, ok := ignoredTypes[tag]; ok {
				continue
			}
			return nil, &FormatError{Line: lineNo, Reason: fmt.Sprintf("unknown record type %q", fields[0])}
		}

		interval, err := parseSpeaker(fields)
		if err != nil {
			return nil, &FormatError{Line: lineNo, Reason: err.Error()}
		}
		rec := parsed{interval: interval, line: lineNo}
		records = append(records, rec)
		bySpeaker[interval.Speaker] = append(bySpeaker[interval.Speaker], rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rttm: %w", err)
	}
	if err := checkSelfOverlap(bySpeaker); err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].interval.Start < records[j].interval.Start
	})
	intervals := make([]transcript.SpeakerInterval, len(records))
	for i, rec := range records {
		intervals[i] = rec.interval
	}
	return intervals, nil
}

// checkSelfOverlap sorts each speaker's turns by start and compares every
// turn with the earlier turn that ends last. Among the overlapping pairs
// found, the one whose later record comes first in the file is reported.
func checkSelfOverlap(bySpeaker map[string][]parsed) error {
	var found *FormatError
	for speaker, turns := range bySpeaker {
		sort.SliceStable(turns, func(i, j int) bool {
			return turns[i].interval.Start < turns[j].interval.Start
		})
		reach := turns[0]
		for _, cur := range turns[1:] {
			if overlaps(reach.interval, cur.interval) {
				first, second := reach, cur
				if first.line > second.line {
					first, second = second, first
				}
				if found == nil || second.line < found.Line {
					found = &FormatError{
						Line: second.line,
						Reason: fmt.Sprintf("speaker %s overlaps its own turn from line %d (%.3f-%.3f)",
							speaker, first.line, first.interval.Start, first.interval.End),
					}
				}
			}
			if cur.interval.End > reach.interval.End {
				reach = cur
			}
		}
	}
	if found == nil {
		return nil
	}
	return found
}

// ParseFile parses the RTTM file at path.
func ParseFile(path string) ([]transcript.SpeakerInterval, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rttm: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func parseSpeaker(fields []string) (transcript.SpeakerInterval, error) {
	if len(fields) < minSpeakerFields {
		return transcript.SpeakerInterval{}, fmt.Errorf("expected at least %d fields, got %d", minSpeakerFields, len(fields))
	}
	start, err := parseSeconds("start", fields[3])
	if err != nil {
		return transcript.SpeakerInterval{}, err
	}
	duration, err := parseSeconds("duration", fields[4])
	if err != nil {
		return transcript.SpeakerInterval{}, err
	}
	if start < 0 {
		return transcript.SpeakerInterval{}, fmt.Errorf("start %s is negative", fields[3])
	}
	if duration <= 0 {
		return transcript.SpeakerInterval{}, fmt.Errorf("duration %s must be positive", fields[4])
	}
	speaker := fields[7]
	if speaker == "" || speaker == "<NA>" {
		return transcript.SpeakerInterval{}, fmt.Errorf("missing speaker name")
	}
	return transcript.SpeakerInterval{
		Speaker: speaker,
		Start:   start,
		End:     roundMicros(start + duration),
		File:    fields[1],
		Channel: fields[2],
	}, nil
}

func parseSeconds(name, raw string) (float64, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", name, raw)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%s %q is not finite", name, raw)
	}
	return value, nil
}

func overlaps(a, b transcript.SpeakerInterval) bool {
	return a.Start < b.End-overlapEpsilon && b.Start < a.End-overlapEpsilon
}

// roundMicros strips float noise from start+duration sums.
func roundMicros(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Format writes intervals as RTTM SPEAKER records with millisecond precision.
// recording fills the file column for intervals that carry none.
func Format(w io.Writer, recording string, intervals []transcript.SpeakerInterval) error {
	bw := bufio.NewWriter(w)
	for _, iv := range intervals {
		file := iv.File
		if file == "" {
			file = recording
		}
		if file == "" {
			file = "<NA>"
		}
		channel := iv.Channel
		if channel == "" {
			channel = "1"
		}
		if _, err := fmt.Fprintf(bw, "SPEAKER %s %s %.3f %.3f <NA> <NA> %s <NA> <NA>\n",
			file, channel, iv.Start, iv.End-iv.Start, iv.Speaker); err != nil {
			return err
		}
	}
	return bw.Flush()
}
