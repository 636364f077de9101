// Package transcript defines the timeline records exchanged between pipeline
// steps: speaker intervals from diarization, fragments from transcription,
// and the merged, speaker-attributed utterances written as the final
// transcript. Every step communicates through these JSON artifacts on disk.
package transcript

import (
	"fmt"

	"parley/internal/fileutil"
)

// Unattributed is the speaker assigned to speech no interval could claim.
const Unattributed = "unattributed"

// SpeakerInterval is one diarized speaker turn. End > Start >= 0.
type SpeakerInterval struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	File    string  `json:"file,omitempty"`
	Channel string  `json:"channel,omitempty"`
}

// Duration returns the interval length in seconds.
func (i SpeakerInterval) Duration() float64 { return i.End - i.Start }

// Fragment is one timestamped unit of transcribed text.
type Fragment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Utterance is a speaker-attributed run of merged fragments.
type Utterance struct {
	Speaker    string   `json:"speaker_id"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Span is a stretch of speech that could not be attributed to a speaker.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Document is the merged transcript for one recording.
type Document struct {
	Recording    string      `json:"recording"`
	Speakers     []string    `json:"speakers"`
	Utterances   []Utterance `json:"utterances"`
	Unattributed []Span      `json:"unattributed,omitempty"`
}

// LoadIntervals reads a segments JSON file ([{start,end,speaker}]).
func LoadIntervals(path string) ([]SpeakerInterval, error) {
	var intervals []SpeakerInterval
	if err := fileutil.ReadJSON(path, &intervals); err != nil {
		return nil, fmt.Errorf("load intervals: %w", err)
	}
	return intervals, nil
}

// SaveIntervals writes intervals as segments JSON.
func SaveIntervals(path string, intervals []SpeakerInterval) error {
	if intervals == nil {
		intervals = []SpeakerInterval{}
	}
	return fileutil.WriteJSONAtomic(path, intervals)
}

// LoadFragments reads a fragments JSON file.
func LoadFragments(path string) ([]Fragment, error) {
	var fragments []Fragment
	if err := fileutil.ReadJSON(path, &fragments); err != nil {
		return nil, fmt.Errorf("load fragments: %w", err)
	}
	return fragments, nil
}

// SaveFragments writes fragments as JSON.
func SaveFragments(path string, fragments []Fragment) error {
	if fragments == nil {
		fragments = []Fragment{}
	}
	return fileutil.WriteJSONAtomic(path, fragments)
}

// LoadDocument reads a transcript document.
func LoadDocument(path string) (Document, error) {
	var doc Document
	if err := fileutil.ReadJSON(path, &doc); err != nil {
		return Document{}, fmt.Errorf("load transcript: %w", err)
	}
	return doc, nil
}

// SaveDocument writes a transcript document. Nil slices are written as empty
// arrays so consumers never see null.
func SaveDocument(path string, doc Document) error {
	if doc.Speakers == nil {
		doc.Speakers = []string{}
	}
	if doc.Utterances == nil {
		doc.Utterances = []Utterance{}
	}
	return fileutil.WriteJSONAtomic(path, doc)
}
