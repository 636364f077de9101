package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"parley/internal/config"
	"parley/internal/fileutil"
	"parley/internal/logging"
	"parley/internal/services"
	"parley/internal/services/whisperx"
	"parley/internal/splitter"
	"parley/internal/stage"
	"parley/internal/transcript"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

// run records the call and touches the last argument as an output file.
func (r *recorder) run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if len(args) == 0 {
		return nil
	}
	return os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o644)
}

func TestExpandArgs(t *testing.T) {
	req := stage.Request{
		Step:    "diarize",
		Kind:    KindCommand,
		Inputs:  []string{"/ws/a.wav", "/ws/b.wav"},
		Outputs: []string{"/ws/out.rttm"},
		Params:  stage.Params{"device": "cuda", "beam": 4},
	}
	tests := []struct {
		name     string
		template []string
		want     []string
		wantErr  error
	}{
		{
			name:     "single placeholders",
			template: []string{"diarize", "--device", "{param:device}", "--out={output}", "{input}"},
			want:     []string{"diarize", "--device", "cuda", "--out=/ws/out.rttm", "/ws/a.wav"},
		},
		{
			name:     "list placeholders",
			template: []string{"cat", "{inputs}", "{outputs}"},
			want:     []string{"cat", "/ws/a.wav", "/ws/b.wav", "/ws/out.rttm"},
		},
		{
			name:     "numeric param",
			template: []string{"x", "--beam", "{param:beam}"},
			want:     []string{"x", "--beam", "4"},
		},
		{
			name:     "unknown param",
			template: []string{"x", "{param:missing}"},
			wantErr:  services.ErrConfiguration,
		},
		{
			name:     "empty command",
			template: nil,
			wantErr:  services.ErrConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandArgs(tt.template, req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandArgs: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandExecute(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "diarization.rttm")
	rec := &recorder{}
	handler := NewCommand(rec.run, logging.NewNop())

	_, err := handler.Execute(context.Background(), stage.Request{
		Step:    "diarize",
		Kind:    KindCommand,
		Inputs:  []string{"audio.wav"},
		Outputs: []string{out},
		Params:  stage.Params{ParamCommand: []any{"python3", "diarize.py", "{input}", "{output}"}},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0][0] != "python3" {
		t.Fatalf("unexpected calls %v", rec.calls)
	}
	if !fileutil.Exists(out) {
		t.Fatal("expected output parent to be created and file written")
	}

	failing := NewCommand(func(context.Context, string, ...string) error { return errors.New("exit status 2") }, nil)
	_, err = failing.Execute(context.Background(), stage.Request{
		Step: "score", Kind: KindCommand, Outputs: []string{out},
		Params: stage.Params{ParamCommand: []string{"score"}},
	})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestSegmentsExecute(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "call.rttm")
	rttm := "SPEAKER call 1 5.000 2.000 <NA> <NA> B <NA> <NA>\n" +
		"SPEAKER call 1 0.000 5.000 <NA> <NA> A <NA> <NA>\n"
	if err := os.WriteFile(in, []byte(rttm), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "segments.json")

	_, err := NewSegments(nil).Execute(context.Background(), stage.Request{
		Step: "segments", Kind: KindSegments, Inputs: []string{in}, Outputs: []string{out},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	intervals, err := transcript.LoadIntervals(out)
	if err != nil {
		t.Fatalf("LoadIntervals: %v", err)
	}
	if len(intervals) != 2 || intervals[0].Speaker != "A" || intervals[1].End != 7 {
		t.Fatalf("unexpected intervals %+v", intervals)
	}
}

func TestSegmentsRejectsMalformedRTTM(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bad.rttm")
	if err := os.WriteFile(in, []byte("SPEAKER call 1 abc 2.0 <NA> <NA> A <NA> <NA>\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewSegments(nil).Execute(context.Background(), stage.Request{
		Step: "segments", Kind: KindSegments, Inputs: []string{in}, Outputs: []string{filepath.Join(dir, "s.json")},
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("malformed input must not be retryable")
	}
}

func TestSplitExecute(t *testing.T) {
	dir := t.TempDir()
	segments := filepath.Join(dir, "segments.json")
	err := transcript.SaveIntervals(segments, []transcript.SpeakerInterval{
		{Speaker: "A", Start: 0, End: 2},
		{Speaker: "A", Start: 2.1, End: 3},
		{Speaker: "B", Start: 3, End: 4.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	probe := func(context.Context, string) (float64, error) { return 5, nil }
	handler := NewSplit("ffmpeg", "ffprobe", probe, rec.run, nil)
	outDir := filepath.Join(dir, "slices")

	_, err = handler.Execute(context.Background(), stage.Request{
		Step: "split", Kind: KindSplit,
		Inputs:  []string{filepath.Join(dir, "call.wav"), segments},
		Outputs: []string{outDir},
		Params:  stage.Params{ParamMergeGap: 0.5, ParamBoundsTolerance: 0.05},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	manifest, err := splitter.LoadManifest(outDir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(manifest.Slices) != 2 {
		t.Fatalf("expected merged A turns plus B, got %+v", manifest.Slices)
	}
	if manifest.Slices[0].End != 3 || manifest.Slices[1].Speaker != "B" {
		t.Fatalf("unexpected slices %+v", manifest.Slices)
	}
}

func TestSplitBoundsErrorIsValidation(t *testing.T) {
	dir := t.TempDir()
	segments := filepath.Join(dir, "segments.json")
	if err := transcript.SaveIntervals(segments, []transcript.SpeakerInterval{{Speaker: "A", Start: 0, End: 9}}); err != nil {
		t.Fatal(err)
	}
	probe := func(context.Context, string) (float64, error) { return 5, nil }
	handler := NewSplit("ffmpeg", "ffprobe", probe, (&recorder{}).run, nil)
	_, err := handler.Execute(context.Background(), stage.Request{
		Step: "split", Kind: KindSplit,
		Inputs:  []string{"call.wav", segments},
		Outputs: []string{filepath.Join(dir, "slices")},
	})
	var bounds *splitter.BoundsError
	if !errors.As(err, &bounds) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected bounds validation error, got %v", err)
	}
}

type fakeTranscriber struct {
	mu       sync.Mutex
	sources  []string
	segments map[string][]whisperx.Segment
}

func (f *fakeTranscriber) TranscribeFile(_ context.Context, source, _ string) (whisperx.TranscribeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, filepath.Base(source))
	return whisperx.TranscribeResult{Segments: f.segments[filepath.Base(source)]}, nil
}

func TestTranscribeSlices(t *testing.T) {
	dir := t.TempDir()
	slicesDir := filepath.Join(dir, "slices")
	manifest := splitter.Manifest{
		Source:   "call.wav",
		Duration: 10,
		Slices: []splitter.ManifestSlice{
			{Slice: splitter.Slice{Index: 0, Speaker: "A", Start: 0, End: 4}, Path: "part_0000.wav"},
			{Slice: splitter.Slice{Index: 1, Speaker: "B", Start: 3.5, End: 8}, Path: "part_0001.wav"},
			{Slice: splitter.Slice{Index: 2, Speaker: "A", Start: 8, End: 8.05}, Path: "part_0002.wav"},
		},
	}
	if err := fileutil.WriteJSONAtomic(filepath.Join(slicesDir, splitter.ManifestName), manifest); err != nil {
		t.Fatal(err)
	}
	fake := &fakeTranscriber{segments: map[string][]whisperx.Segment{
		"part_0000.wav": {{Text: " hello ", Start: 0.5, End: 3.9}},
		"part_0001.wav": {{Text: "overlapping", Start: 0, End: 1}, {Text: "  ", Start: 1, End: 2}, {Text: "later", Start: 2, End: 3}},
	}}
	var gotCfg whisperx.Config
	handler := NewTranscribe("secret", func(cfg whisperx.Config) Transcriber {
		gotCfg = cfg
		return fake
	}, nil)
	out := filepath.Join(dir, "fragments.json")

	res, err := handler.Execute(context.Background(), stage.Request{
		Step: "transcribe", Kind: KindTranscribe,
		Inputs:  []string{slicesDir},
		Outputs: []string{out},
		Params:  stage.Params{ParamMode: config.ModeSlices, ParamMinSeconds: 0.1, ParamModel: "small"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotCfg.Model != "small" || gotCfg.HFToken != "secret" {
		t.Fatalf("unexpected whisperx config %+v", gotCfg)
	}
	if !slices.Equal(fake.sources, []string{"part_0000.wav", "part_0001.wav"}) {
		t.Fatalf("short slice should be skipped, transcribed %v", fake.sources)
	}

	fragments, err := transcript.LoadFragments(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(fragments) != 3 {
		t.Fatalf("expected 3 fragments, got %+v", fragments)
	}
	// "overlapping" starts at 3.5 but "hello" runs to 3.9.
	if fragments[0].Text != "hello" || fragments[1].Start != 3.9 || fragments[2].Start != 5.5 {
		t.Fatalf("unexpected fragments %+v", fragments)
	}

	kinds := map[string]int{}
	for _, w := range res.Warnings {
		kinds[w.Kind]++
	}
	if kinds[stage.WarningSkippedSlice] != 1 || kinds[stage.WarningClampedFragment] != 1 {
		t.Fatalf("unexpected warnings %+v", res.Warnings)
	}
}

func TestTranscribeRejectsUnknownMode(t *testing.T) {
	handler := NewTranscribe("", func(whisperx.Config) Transcriber { return &fakeTranscriber{} }, nil)
	_, err := handler.Execute(context.Background(), stage.Request{
		Step: "transcribe", Kind: KindTranscribe,
		Inputs: []string{"a.wav"}, Outputs: []string{filepath.Join(t.TempDir(), "f.json")},
		Params: stage.Params{ParamMode: "stream"},
	})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOrderFragments(t *testing.T) {
	in := []transcript.Fragment{
		{Start: 2, End: 3, Text: "b"},
		{Start: 0, End: 2.5, Text: "a"},
		{Start: 2.2, End: 2.4, Text: "c"},
	}
	out, warnings := OrderFragments("t", in)
	if out[0].Text != "a" || out[1].Text != "b" || out[2].Text != "c" {
		t.Fatalf("unexpected order %+v", out)
	}
	for i := 1; i < len(out); i++ {
		if out[i].Start < out[i-1].End {
			t.Fatalf("fragments overlap after ordering: %+v", out)
		}
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 clamp warnings, got %+v", warnings)
	}
	if in[0].Text != "b" {
		t.Fatal("input slice must not be modified")
	}
}

func TestAlignExecute(t *testing.T) {
	dir := t.TempDir()
	segments := filepath.Join(dir, "segments.json")
	fragmentsPath := filepath.Join(dir, "fragments.json")
	if err := transcript.SaveIntervals(segments, []transcript.SpeakerInterval{
		{Speaker: "A", Start: 0, End: 5},
		{Speaker: "B", Start: 5, End: 10},
	}); err != nil {
		t.Fatal(err)
	}
	if err := transcript.SaveFragments(fragmentsPath, []transcript.Fragment{
		{Start: 0.5, End: 1.5, Text: "hello"},
		{Start: 1.6, End: 2.0, Text: "there"},
		{Start: 5.2, End: 6.0, Text: "how are you"},
		{Start: 11, End: 11.5, Text: "uh"},
	}); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "transcript.json")

	res, err := NewAlign(nil).Execute(context.Background(), stage.Request{
		Step: "align", Kind: KindAlign,
		Inputs:  []string{segments, fragmentsPath},
		Outputs: []string{out},
		Params:  stage.Params{ParamMergeThreshold: 0.5, ParamNearestTolerance: 0.2, ParamRecording: "call"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	doc, err := transcript.LoadDocument(out)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Recording != "call" || len(doc.Utterances) != 3 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Utterances[0].Text != "hello there" || doc.Utterances[1].Text != "how are you" {
		t.Fatalf("unexpected utterances %+v", doc.Utterances)
	}
	if doc.Utterances[2].Speaker != transcript.Unattributed {
		t.Fatalf("expected trailing fragment unattributed, got %+v", doc.Utterances[2])
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != stage.WarningUnattributedSpeech || !strings.Contains(res.Warnings[0].Detail, "uh") {
		t.Fatalf("unexpected warnings %+v", res.Warnings)
	}
}

func TestNewRegistryDefaultsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Alignment.MergeThreshold = 0.75
	cfg.Transcription.Mode = config.ModeFull
	reg := NewRegistry(&cfg, nil)

	for _, kind := range []string{KindAlign, KindCommand, KindSegments, KindSplit, KindTranscribe} {
		if !reg.Has(kind) {
			t.Fatalf("kind %s not registered", kind)
		}
	}
	params := reg.Resolve(KindAlign, stage.Params{ParamNearestTolerance: 0.1})
	if v, _ := params.Float(ParamMergeThreshold, 0); v != 0.75 {
		t.Fatalf("expected merge threshold default from config, got %v", v)
	}
	if v, _ := params.Float(ParamNearestTolerance, 0); v != 0.1 {
		t.Fatalf("step params should win over defaults, got %v", v)
	}
	if mode, _ := reg.Resolve(KindTranscribe, nil).String(ParamMode, ""); mode != config.ModeFull {
		t.Fatalf("expected mode from config, got %q", mode)
	}
	if _, ok := reg.Resolve(KindTranscribe, nil)["hf_token"]; ok {
		t.Fatal("credentials must stay out of step parameters")
	}
}
