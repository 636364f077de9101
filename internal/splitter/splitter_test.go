package splitter_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"parley/internal/logging"
	"parley/internal/services"
	"parley/internal/splitter"
	"parley/internal/transcript"
)

func iv(speaker string, start, end float64) transcript.SpeakerInterval {
	return transcript.SpeakerInterval{Speaker: speaker, Start: start, End: end}
}

func TestPlanSnapsToIntervals(t *testing.T) {
	intervals := []transcript.SpeakerInterval{iv("B", 2, 4), iv("A", 0, 2), iv("A", 4.5, 6)}
	slices, err := splitter.Plan(intervals, 6, splitter.Options{})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(slices) != 3 {
		t.Fatalf("expected 3 slices, got %d", len(slices))
	}
	want := []splitter.Slice{
		{Index: 0, Speaker: "A", Start: 0, End: 2, Intervals: 1},
		{Index: 1, Speaker: "B", Start: 2, End: 4, Intervals: 1},
		{Index: 2, Speaker: "A", Start: 4.5, End: 6, Intervals: 1},
	}
	for i := range want {
		if slices[i] != want[i] {
			t.Fatalf("slice %d = %+v, want %+v", i, slices[i], want[i])
		}
	}
	for i := 1; i < 2; i++ {
		if slices[i].Start != slices[i-1].End {
			t.Fatalf("adjacent slices should share a boundary: %+v %+v", slices[i-1], slices[i])
		}
	}
}

func TestPlanMergesCloseSameSpeakerIntervals(t *testing.T) {
	intervals := []transcript.SpeakerInterval{iv("A", 0, 1), iv("A", 1.2, 2), iv("A", 3, 4), iv("B", 4.1, 5)}
	slices, err := splitter.Plan(intervals, 5, splitter.Options{MergeGap: 0.5})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(slices) != 3 {
		t.Fatalf("expected 3 slices, got %+v", slices)
	}
	if slices[0].Start != 0 || slices[0].End != 2 || slices[0].Intervals != 2 {
		t.Fatalf("expected merged first slice, got %+v", slices[0])
	}
	if slices[1].Start != 3 || slices[2].Speaker != "B" || slices[2].Index != 2 {
		t.Fatalf("unexpected slices %+v", slices)
	}
}

func TestPlanDoesNotMergeAcrossOtherSpeakers(t *testing.T) {
	intervals := []transcript.SpeakerInterval{iv("A", 0, 1), iv("B", 1, 1.1), iv("A", 1.1, 2)}
	slices, err := splitter.Plan(intervals, 2, splitter.Options{MergeGap: 1})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(slices) != 3 {
		t.Fatalf("expected no merge across speaker change, got %+v", slices)
	}
}

func TestPlanBoundsError(t *testing.T) {
	_, err := splitter.Plan([]transcript.SpeakerInterval{iv("A", 0, 2), iv("B", 2, 10.5)}, 10, splitter.Options{})
	var bounds *splitter.BoundsError
	if !errors.As(err, &bounds) {
		t.Fatalf("expected BoundsError, got %v", err)
	}
	if bounds.Index != 1 || bounds.End != 10.5 || bounds.Duration != 10 {
		t.Fatalf("unexpected bounds error %+v", bounds)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatal("bounds error should be non-retryable validation")
	}

	if _, err := splitter.Plan([]transcript.SpeakerInterval{iv("B", 2, 10.5)}, 10, splitter.Options{Tolerance: 0.5}); err != nil {
		t.Fatalf("tolerance should absorb overrun: %v", err)
	}
}

func TestFormatSeconds(t *testing.T) {
	cases := map[float64]string{0: "0.000", 1.9: "1.900", 2.0004: "2.000", 12.3456: "12.346"}
	for in, want := range cases {
		if got := splitter.FormatSeconds(in); got != want {
			t.Fatalf("FormatSeconds(%v) = %q, want %q", in, got, want)
		}
	}
}

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	dest := args[len(args)-1]
	return os.WriteFile(dest, []byte("RIFF"), 0o644)
}

func TestSplitWritesSlicesAndManifest(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "slices")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(outDir, "part_0009.wav")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	s := splitter.New("ffmpeg", logging.NewNop(), splitter.WithCommandRunner(rec.run))
	slices := []splitter.Slice{
		{Index: 0, Speaker: "A", Start: 0, End: 2.5, Intervals: 1},
		{Index: 1, Speaker: "B", Start: 2.5, End: 4.125, Intervals: 1},
	}
	manifest, err := s.Split(context.Background(), "/audio/call.wav", 5, slices, outDir)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 ffmpeg calls, got %d", len(rec.calls))
	}
	joined := strings.Join(rec.calls[1], " ")
	for _, want := range []string{"-ss 2.500", "-to 4.125", "-ac 1", "-ar 16000", "-i /audio/call.wav"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale slice removed")
	}

	loaded, err := splitter.LoadManifest(outDir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if loaded.Source != "/audio/call.wav" || loaded.Duration != 5 || len(loaded.Slices) != 2 {
		t.Fatalf("unexpected manifest %+v", loaded)
	}
	if loaded.Slices[1].Path != filepath.Join(outDir, "part_0001.wav") {
		t.Fatalf("expected absolute slice path, got %q", loaded.Slices[1].Path)
	}
	if manifest.Slices[0].Path != "part_0000.wav" {
		t.Fatalf("manifest should store relative names, got %q", manifest.Slices[0].Path)
	}
}

func TestSplitReportsToolFailure(t *testing.T) {
	failing := func(context.Context, string, ...string) error { return errors.New("exit status 1") }
	s := splitter.New("ffmpeg", nil, splitter.WithCommandRunner(failing))
	_, err := s.Split(context.Background(), "in.wav", 1, []splitter.Slice{{Speaker: "A", Start: 0, End: 1}}, t.TempDir())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestSplitMissingOutput(t *testing.T) {
	silent := func(context.Context, string, ...string) error { return nil }
	s := splitter.New("ffmpeg", nil, splitter.WithCommandRunner(silent))
	_, err := s.Split(context.Background(), "in.wav", 1, []splitter.Slice{{Speaker: "A", Start: 0, End: 1}}, t.TempDir())
	if !errors.Is(err, services.ErrMissingArtifact) {
		t.Fatalf("expected missing artifact error, got %v", err)
	}
}
