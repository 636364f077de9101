package whisperx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"parley/internal/transcript"
)

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word  string   `json:"word"`
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	Score *float64 `json:"score,omitempty"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

// whisperXPayload is the JSON structure from WhisperX output.
type whisperXPayload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload.Segments, nil
}

// Fragments converts segments to fragments shifted by offset seconds. Empty
// segments are dropped. Confidence is the mean word score when WhisperX
// reported one.
func Fragments(segments []Segment, offset float64) []transcript.Fragment {
	out := make([]transcript.Fragment, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		frag := transcript.Fragment{
			Start: seg.Start + offset,
			End:   seg.End + offset,
			Text:  text,
		}
		var sum float64
		var n int
		for _, w := range seg.Words {
			if w.Score != nil {
				sum += *w.Score
				n++
			}
		}
		if n > 0 {
			mean := sum / float64(n)
			frag.Confidence = &mean
		}
		out = append(out, frag)
	}
	return out
}
