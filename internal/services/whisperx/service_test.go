package whisperx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"parley/internal/services"
)

func TestBuildArgsCPU(t *testing.T) {
	s := NewService(Config{Language: "en-US"}, nil)
	args := s.buildArgs("/work/part_0000.wav", "/work/out")
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--index-url " + PypiIndexURL,
		"whisperx /work/part_0000.wav",
		"--model large-v3",
		"--output_format json",
		"--vad_method silero",
		"--language en",
		"--device cpu --compute_type float32",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
	if slices.Contains(args, "--hf_token") {
		t.Fatal("hf token should only be passed for pyannote VAD")
	}
}

func TestBuildArgsCUDAPyannote(t *testing.T) {
	s := NewService(Config{CUDAEnabled: true, VADMethod: VADMethodPyannote, HFToken: "tok", Model: "small"}, nil)
	joined := strings.Join(s.buildArgs("a.wav", "out"), " ")
	for _, want := range []string{"--extra-index-url", "--hf_token tok", "--device cuda", "--model small"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
	if strings.Contains(joined, "--language") {
		t.Fatal("empty language should let whisperx detect")
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{"en": "en", "en-US": "en", "eng": "en", "DE": "de", "": "", "???": ""}
	for in, want := range cases {
		if got := NormalizeLanguage(in); got != want {
			t.Fatalf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranscribeFileLoadsSegments(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "part_0003.wav")
	outDir := filepath.Join(dir, "out")
	s := NewService(Config{}, nil)
	s.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		if name != UVXCommand {
			t.Fatalf("unexpected command %s", name)
		}
		payload := `{"segments":[{"text":" hi ","start":0.5,"end":1.0,"words":[{"word":"hi","start":0.5,"end":1.0,"score":0.8}]}]}`
		return os.WriteFile(filepath.Join(outDir, "part_0003.json"), []byte(payload), 0o644)
	})

	result, err := s.TranscribeFile(context.Background(), source, outDir)
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if len(result.Segments) != 1 || result.Segments[0].Start != 0.5 {
		t.Fatalf("unexpected segments %+v", result.Segments)
	}

	frags := Fragments(result.Segments, 10)
	if len(frags) != 1 || frags[0].Start != 10.5 || frags[0].End != 11 || frags[0].Text != "hi" {
		t.Fatalf("unexpected fragments %+v", frags)
	}
	if frags[0].Confidence == nil || *frags[0].Confidence != 0.8 {
		t.Fatalf("expected word score confidence, got %v", frags[0].Confidence)
	}
}

func TestTranscribeFileFailures(t *testing.T) {
	dir := t.TempDir()
	s := NewService(Config{}, nil)
	s.WithCommandRunner(func(context.Context, string, ...string) error { return errors.New("boom") })
	if _, err := s.TranscribeFile(context.Background(), filepath.Join(dir, "a.wav"), dir); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}

	s.WithCommandRunner(func(context.Context, string, ...string) error { return nil })
	if _, err := s.TranscribeFile(context.Background(), filepath.Join(dir, "a.wav"), dir); !errors.Is(err, services.ErrMissingArtifact) {
		t.Fatalf("expected missing artifact error, got %v", err)
	}
}

func TestFragmentsDropsEmptySegments(t *testing.T) {
	frags := Fragments([]Segment{{Text: "  ", Start: 0, End: 1}, {Text: "ok", Start: 1, End: 2}}, 0)
	if len(frags) != 1 || frags[0].Text != "ok" || frags[0].Confidence != nil {
		t.Fatalf("unexpected fragments %+v", frags)
	}
}
