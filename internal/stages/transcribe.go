package stages

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"path/filepath"
	"slices"

	"parley/internal/config"
	"parley/internal/logging"
	"parley/internal/services"
	"parley/internal/services/whisperx"
	"parley/internal/splitter"
	"parley/internal/stage"
	"parley/internal/transcript"
)

// Transcribe parameter names.
const (
	ParamMode       = "mode"
	ParamModel      = "model"
	ParamCUDA       = "cuda"
	ParamVADMethod  = "vad_method"
	ParamLanguage   = "language"
	ParamMinSeconds = "min_seconds"
)

// Transcriber runs speech-to-text over one audio file.
type Transcriber interface {
	TranscribeFile(ctx context.Context, source, outputDir string) (whisperx.TranscribeResult, error)
}

// TranscriberFactory builds a Transcriber for the resolved step settings.
type TranscriberFactory func(whisperx.Config) Transcriber

// Transcribe produces time-stamped fragments from a slices directory or a
// whole recording.
type Transcribe struct {
	hfToken string
	factory TranscriberFactory
	logger  *slog.Logger
}

// NewTranscribe constructs a transcribe handler. hfToken is passed to
// WhisperX without entering step parameters, so it never reaches a
// fingerprint or a log line.
func NewTranscribe(hfToken string, factory TranscriberFactory, logger *slog.Logger) *Transcribe {
	component := logging.NewComponentLogger(logger, "transcribe")
	if factory == nil {
		factory = func(cfg whisperx.Config) Transcriber {
			return whisperx.NewService(cfg, logger)
		}
	}
	return &Transcribe{hfToken: hfToken, factory: factory, logger: component}
}

// Execute transcribes Inputs[0] into the fragments file Outputs[0].
func (t *Transcribe) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	if err := requireIO(req, 1, 1); err != nil {
		return stage.Result{}, err
	}
	mode, err := req.Params.String(ParamMode, config.ModeSlices)
	if err != nil {
		return stage.Result{}, err
	}
	minSeconds, err := req.Params.Float(ParamMinSeconds, 0)
	if err != nil {
		return stage.Result{}, err
	}
	svc, err := t.service(req.Params)
	if err != nil {
		return stage.Result{}, err
	}

	output := req.Outputs[0]
	scratch := filepath.Join(filepath.Dir(output), ".whisperx", req.Step)
	logger := logging.WithContext(ctx, t.logger)

	var (
		fragments []transcript.Fragment
		warnings  []stage.Warning
	)
	switch mode {
	case config.ModeSlices:
		fragments, warnings, err = t.transcribeSlices(ctx, svc, req, minSeconds, scratch)
	case config.ModeFull:
		var result whisperx.TranscribeResult
		result, err = svc.TranscribeFile(ctx, req.Inputs[0], scratch)
		fragments = whisperx.Fragments(result.Segments, 0)
	default:
		err = services.Wrap(services.ErrConfiguration, req.Kind, "mode", fmt.Sprintf("unknown transcription mode %q", mode), nil)
	}
	if err != nil {
		return stage.Result{}, err
	}

	fragments, clamped := OrderFragments(req.Step, fragments)
	warnings = append(warnings, clamped...)

	if err := ensureParent(output); err != nil {
		return stage.Result{}, err
	}
	if err := transcript.SaveFragments(output, fragments); err != nil {
		return stage.Result{}, err
	}
	logger.Info("transcription written",
		logging.String(logging.FieldEventType, "transcription_written"),
		logging.String("mode", mode),
		logging.Int("fragments", len(fragments)),
		logging.Int("warnings", len(warnings)),
	)
	return stage.Result{Warnings: warnings}, nil
}

func (t *Transcribe) transcribeSlices(ctx context.Context, svc Transcriber, req stage.Request, minSeconds float64, scratch string) ([]transcript.Fragment, []stage.Warning, error) {
	manifest, err := splitter.LoadManifest(req.Inputs[0])
	if err != nil {
		return nil, nil, services.Wrap(services.ErrMissingArtifact, req.Kind, "manifest", req.Inputs[0], err)
	}
	var (
		fragments []transcript.Fragment
		warnings  []stage.Warning
	)
	for _, slice := range manifest.Slices {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if slice.End-slice.Start < minSeconds {
			warnings = append(warnings, stage.Warning{
				Step:   req.Step,
				Kind:   stage.WarningSkippedSlice,
				Start:  slice.Start,
				End:    slice.End,
				Detail: fmt.Sprintf("slice %d of %s shorter than %.3fs", slice.Index, slice.Speaker, minSeconds),
			})
			continue
		}
		result, err := svc.TranscribeFile(ctx, slice.Path, scratch)
		if err != nil {
			return nil, nil, err
		}
		for _, frag := range whisperx.Fragments(result.Segments, slice.Start) {
			frag.Start = clamp(frag.Start, slice.Start, slice.End)
			frag.End = clamp(frag.End, frag.Start, slice.End)
			fragments = append(fragments, frag)
		}
	}
	return fragments, warnings, nil
}

func (t *Transcribe) service(params stage.Params) (Transcriber, error) {
	model, err := params.String(ParamModel, whisperx.DefaultModel)
	if err != nil {
		return nil, err
	}
	cuda, err := params.Bool(ParamCUDA, false)
	if err != nil {
		return nil, err
	}
	vad, err := params.String(ParamVADMethod, whisperx.VADMethodSilero)
	if err != nil {
		return nil, err
	}
	language, err := params.String(ParamLanguage, "")
	if err != nil {
		return nil, err
	}
	return t.factory(whisperx.Config{
		Model:       model,
		CUDAEnabled: cuda,
		VADMethod:   vad,
		HFToken:     t.hfToken,
		Language:    language,
	}), nil
}

// HealthCheck verifies uvx is installed.
func (t *Transcribe) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(whisperx.UVXCommand); err != nil {
		return stage.Unhealthy(KindTranscribe, fmt.Sprintf("%s not found", whisperx.UVXCommand))
	}
	return stage.Healthy(KindTranscribe)
}

// OrderFragments sorts fragments by start and trims any fragment that begins
// before its predecessor ends, so the result is ordered and non-overlapping.
// Slices from overlapping speaker turns are the usual source of overlap. Each
// trimmed fragment yields a clamped_fragment warning.
func OrderFragments(step string, fragments []transcript.Fragment) ([]transcript.Fragment, []stage.Warning) {
	out := slices.Clone(fragments)
	slices.SortStableFunc(out, func(a, b transcript.Fragment) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	var warnings []stage.Warning
	prevEnd := math.Inf(-1)
	for i := range out {
		if out[i].End < out[i].Start {
			out[i].End = out[i].Start
		}
		if out[i].Start < prevEnd {
			warnings = append(warnings, stage.Warning{
				Step:   step,
				Kind:   stage.WarningClampedFragment,
				Start:  out[i].Start,
				End:    out[i].End,
				Detail: fmt.Sprintf("moved start to %.3f to follow the previous fragment", prevEnd),
			})
			out[i].Start = prevEnd
			out[i].End = max(out[i].End, prevEnd)
		}
		prevEnd = out[i].End
	}
	return out, warnings
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
