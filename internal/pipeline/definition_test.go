package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"parley/internal/config"
	"parley/internal/services"
	"parley/internal/stage"
	"parley/internal/stages"
)

const sampleDefinition = `
[[steps]]
name = "diarize"
kind = "command"
inputs = ["call.wav"]
outputs = ["out/call.rttm"]
retries = 2

[steps.params]
command = ["diarize", "{input}", "{output}"]
device = "cpu"

[[steps]]
name = "segments"
kind = "segments"
inputs = ["out/call.rttm"]
outputs = ["/abs/segments.json"]
`

func writeDefinition(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefinition(t *testing.T) {
	ws := t.TempDir()
	def, err := LoadDefinition(writeDefinition(t, sampleDefinition), ws)
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(def.Steps))
	}
	diarize := def.Steps[0]
	if diarize.Inputs[0] != filepath.Join(ws, "call.wav") {
		t.Fatalf("relative input not resolved: %q", diarize.Inputs[0])
	}
	if def.Steps[1].Outputs[0] != "/abs/segments.json" {
		t.Fatalf("absolute output changed: %q", def.Steps[1].Outputs[0])
	}
	if StepRetries(diarize, 0) != 2 || StepRetries(def.Steps[1], 1) != 1 {
		t.Fatal("unexpected retry resolution")
	}
	argv, err := diarize.Params.Strings(stages.ParamCommand, nil)
	if err != nil || !slices.Equal(argv, []string{"diarize", "{input}", "{output}"}) {
		t.Fatalf("command param = %v (%v)", argv, err)
	}
	if err := def.Validate(stages.NewRegistry(&config.Config{}, nil)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadDefinitionRejectsUnknownKeys(t *testing.T) {
	_, err := LoadDefinition(writeDefinition(t, "[[steps]]\nname = \"a\"\nkind = \"command\"\noutputs = [\"x\"]\ntimeout = 5\n"), t.TempDir())
	if !errors.Is(err, services.ErrConfiguration) || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestDefinitionValidate(t *testing.T) {
	reg := stage.NewRegistry()
	reg.Register("touch", nil, nil)
	negative := -1
	tests := []struct {
		name  string
		steps []Step
		want  string
	}{
		{name: "empty", steps: nil, want: "Steps"},
		{name: "missing name", steps: []Step{{Kind: "touch", Outputs: []string{"/o"}}}, want: "Name"},
		{name: "bad name", steps: []Step{{Name: "has space", Kind: "touch", Outputs: []string{"/o"}}}, want: "stepname"},
		{name: "no outputs", steps: []Step{{Name: "a", Kind: "touch"}}, want: "Outputs"},
		{name: "negative retries", steps: []Step{{Name: "a", Kind: "touch", Outputs: []string{"/o"}, Retries: &negative}}, want: "Retries"},
		{name: "duplicate", steps: []Step{
			{Name: "a", Kind: "touch", Outputs: []string{"/o1"}},
			{Name: "a", Kind: "touch", Outputs: []string{"/o2"}},
		}, want: "duplicate"},
		{name: "unknown kind", steps: []Step{{Name: "a", Kind: "nope", Outputs: []string{"/o"}}}, want: "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Definition{Steps: tt.steps}.Validate(reg)
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestResolveKeepsBlankPathsInvalid(t *testing.T) {
	reg := stage.NewRegistry()
	reg.Register("touch", nil, nil)
	tests := []struct {
		name string
		step Step
		want string
	}{
		{name: "blank input", step: Step{Name: "a", Kind: "touch", Inputs: []string{"   "}, Outputs: []string{"o.json"}}, want: "Inputs"},
		{name: "empty output", step: Step{Name: "a", Kind: "touch", Outputs: []string{""}}, want: "Outputs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := Definition{Steps: []Step{tt.step}}
			def.Resolve(t.TempDir())
			err := def.Validate(reg)
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestDefaultDefinition(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.WorkspaceDir = "/ws"
	cfg.Pipeline.Audio = "meeting.wav"
	retries := 3
	cfg.Downstream = []config.DownstreamStep{{
		Name: "sentiment", Command: []string{"score", "{input}", "{output}"},
		Outputs: []string{"sentiment.json"}, Retries: &retries,
	}}

	def := DefaultDefinition(&cfg)
	g, err := BuildGraph(def.Steps)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	want := []string{StepDiarize, StepSegments, StepSplit, StepTranscribe, StepAlign, "sentiment"}
	if got := g.Order(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if deps := g.Dependencies("sentiment"); !slices.Equal(deps, []string{StepAlign}) {
		t.Fatalf("downstream should consume the transcript, deps = %v", deps)
	}
	diarize, _ := def.Step(StepDiarize)
	if diarize.Outputs[0] != "/ws/diarization/meeting.rttm" {
		t.Fatalf("unexpected rttm path %q", diarize.Outputs[0])
	}
	align, _ := def.Step(StepAlign)
	if !slices.Equal(align.Outputs, []string{"/ws/transcripts/meeting.json"}) {
		t.Fatalf("transcript should be keyed by recording, got %v", align.Outputs)
	}
	sentiment, _ := def.Step("sentiment")
	if !slices.Equal(sentiment.Inputs, align.Outputs) {
		t.Fatalf("downstream input should default to the transcript, got %v", sentiment.Inputs)
	}
	if err := def.Validate(stages.NewRegistry(&cfg, nil)); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg.Transcription.Mode = config.ModeFull
	full := DefaultDefinition(&cfg)
	if _, ok := full.Step(StepSplit); ok {
		t.Fatal("full mode must not split")
	}
	gFull, err := BuildGraph(full.Steps)
	if err != nil {
		t.Fatal(err)
	}
	if deps := gFull.Dependencies(StepTranscribe); len(deps) != 0 {
		t.Fatalf("full-mode transcription should run alongside diarization, deps = %v", deps)
	}

	cfg.Pipeline.Audio = "/recordings/standup.flac"
	other := DefaultDefinition(&cfg)
	otherAlign, _ := other.Step(StepAlign)
	if otherAlign.Outputs[0] != "/ws/transcripts/standup.json" {
		t.Fatalf("second recording should get its own transcript, got %q", otherAlign.Outputs[0])
	}
}
