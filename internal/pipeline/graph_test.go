package pipeline

import (
	"errors"
	"slices"
	"testing"

	"parley/internal/services"
)

func step(name string, inputs, outputs []string) Step {
	return Step{Name: name, Kind: "touch", Inputs: inputs, Outputs: outputs}
}

func TestBuildGraphOrderAndEdges(t *testing.T) {
	steps := []Step{
		step("align", []string{"/w/segments.json", "/w/fragments.json"}, []string{"/w/transcript.json"}),
		step("diarize", []string{"/w/audio.wav"}, []string{"/w/out.rttm"}),
		step("segments", []string{"/w/out.rttm"}, []string{"/w/segments.json"}),
		step("split", []string{"/w/audio.wav", "/w/segments.json"}, []string{"/w/slices"}),
		step("transcribe", []string{"/w/slices/manifest.json"}, []string{"/w/fragments.json"}),
	}
	g, err := BuildGraph(steps)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	want := []string{"diarize", "segments", "split", "transcribe", "align"}
	if got := g.Order(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if got := g.Dependencies("transcribe"); !slices.Equal(got, []string{"split"}) {
		t.Fatalf("transcribe should depend on split through the slices directory, got %v", got)
	}
	if got := g.Dependencies("align"); !slices.Equal(got, []string{"segments", "transcribe"}) {
		t.Fatalf("align dependencies = %v", got)
	}
	if got := g.Dependents("segments"); !slices.Equal(got, []string{"split", "transcribe", "align"}) {
		t.Fatalf("segments dependents = %v", got)
	}
}

func TestBuildGraphOrderIsDeclarationStableForIndependentSteps(t *testing.T) {
	steps := []Step{
		step("c", nil, []string{"/w/c"}),
		step("a", nil, []string{"/w/a"}),
		step("b", []string{"/w/a"}, []string{"/w/b"}),
	}
	g, err := BuildGraph(steps)
	if err != nil {
		t.Fatal(err)
	}
	if got := g.Order(); !slices.Equal(got, []string{"c", "a", "b"}) {
		t.Fatalf("order = %v", got)
	}
}

func TestBuildGraphPrefixDoesNotMatchSiblings(t *testing.T) {
	steps := []Step{
		step("split", nil, []string{"/w/slices"}),
		step("other", []string{"/w/slices-extra/x"}, []string{"/w/o"}),
	}
	g, err := BuildGraph(steps)
	if err != nil {
		t.Fatal(err)
	}
	if deps := g.Dependencies("other"); len(deps) != 0 {
		t.Fatalf("expected no dependency on sibling path, got %v", deps)
	}
}

func TestBuildGraphRejectsDuplicateOutput(t *testing.T) {
	_, err := BuildGraph([]Step{
		step("a", nil, []string{"/w/x"}),
		step("b", nil, []string{"/w/x"}),
	})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildGraphDetectsCycle(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		want  []string
	}{
		{
			name: "three step cycle",
			steps: []Step{
				step("root", nil, []string{"/w/r"}),
				step("a", []string{"/w/r", "/w/c"}, []string{"/w/a"}),
				step("b", []string{"/w/a"}, []string{"/w/b"}),
				step("c", []string{"/w/b"}, []string{"/w/c"}),
			},
			want: []string{"a", "c", "b", "a"},
		},
		{
			name:  "self loop",
			steps: []Step{step("x", []string{"/w/x/part"}, []string{"/w/x"})},
			want:  []string{"x", "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.steps)
			var cycle *CycleError
			if !errors.As(err, &cycle) {
				t.Fatalf("expected CycleError, got %v", err)
			}
			if !slices.Equal(cycle.Cycle, tt.want) {
				t.Fatalf("cycle = %v, want %v", cycle.Cycle, tt.want)
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatal("cycle should classify as configuration error")
			}
		})
	}
}

func TestClosure(t *testing.T) {
	g, err := BuildGraph([]Step{
		step("a", nil, []string{"/w/a"}),
		step("b", []string{"/w/a"}, []string{"/w/b"}),
		step("c", nil, []string{"/w/c"}),
		step("d", []string{"/w/b"}, []string{"/w/d"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Closure([]string{"d"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"a", "b", "d"}) {
		t.Fatalf("closure = %v", got)
	}
	all, _ := g.Closure(nil)
	if len(all) != 4 {
		t.Fatalf("empty targets should select every step, got %v", all)
	}
	if _, err := g.Closure([]string{"missing"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected unknown step error, got %v", err)
	}
}
