package stages

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"parley/internal/alignment"
	"parley/internal/logging"
	"parley/internal/services"
	"parley/internal/stage"
	"parley/internal/transcript"
)

// Align parameter names.
const (
	ParamMergeThreshold   = "merge_threshold"
	ParamNearestTolerance = "nearest_tolerance"
	ParamRecording        = "recording"
)

// Align merges speaker intervals and transcription fragments into the final
// transcript document.
type Align struct {
	logger *slog.Logger
}

// NewAlign constructs an align handler.
func NewAlign(logger *slog.Logger) *Align {
	return &Align{logger: logging.NewComponentLogger(logger, "align")}
}

// Execute reads segments from Inputs[0] and fragments from Inputs[1] and
// writes the document to Outputs[0].
func (a *Align) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	if err := requireIO(req, 2, 1); err != nil {
		return stage.Result{}, err
	}
	opts := alignment.DefaultOptions()
	var err error
	if opts.MergeThreshold, err = req.Params.Float(ParamMergeThreshold, opts.MergeThreshold); err != nil {
		return stage.Result{}, err
	}
	if opts.Tolerance, err = req.Params.Float(ParamNearestTolerance, opts.Tolerance); err != nil {
		return stage.Result{}, err
	}
	recording, err := req.Params.String(ParamRecording, "")
	if err != nil {
		return stage.Result{}, err
	}

	intervals, err := transcript.LoadIntervals(req.Inputs[0])
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrValidation, req.Kind, "load segments", req.Inputs[0], err)
	}
	fragments, err := transcript.LoadFragments(req.Inputs[1])
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrValidation, req.Kind, "load fragments", req.Inputs[1], err)
	}

	doc, warnings, err := BuildDocument(req.Step, recording, intervals, fragments, opts)
	if err != nil {
		return stage.Result{}, err
	}
	if doc.Recording == "" {
		doc.Recording = strings.TrimSuffix(filepath.Base(req.Inputs[0]), filepath.Ext(req.Inputs[0]))
	}
	if err := ensureParent(req.Outputs[0]); err != nil {
		return stage.Result{}, err
	}
	if err := transcript.SaveDocument(req.Outputs[0], doc); err != nil {
		return stage.Result{}, err
	}

	logging.WithContext(ctx, a.logger).Info("transcript written",
		logging.String(logging.FieldEventType, "transcript_written"),
		logging.Int("utterances", len(doc.Utterances)),
		logging.Int("speakers", len(doc.Speakers)),
		logging.Int("unattributed", len(doc.Unattributed)),
	)
	return stage.Result{Warnings: warnings}, nil
}

// BuildDocument aligns fragments to intervals and assembles the document,
// reporting one unattributed_speech warning per unattributed span.
func BuildDocument(step, recording string, intervals []transcript.SpeakerInterval, fragments []transcript.Fragment, opts alignment.Options) (transcript.Document, []stage.Warning, error) {
	result, err := alignment.Align(intervals, fragments, opts)
	if err != nil {
		return transcript.Document{}, nil, err
	}
	doc := transcript.Document{
		Recording:    recording,
		Speakers:     result.Speakers,
		Utterances:   result.Utterances,
		Unattributed: result.Unattributed,
	}
	warnings := make([]stage.Warning, 0, len(result.Unattributed))
	for _, span := range result.Unattributed {
		warnings = append(warnings, stage.Warning{
			Step:   step,
			Kind:   stage.WarningUnattributedSpeech,
			Start:  span.Start,
			End:    span.End,
			Detail: fmt.Sprintf("%q has no speaker", span.Text),
		})
	}
	return doc, warnings, nil
}

// HealthCheck reports ready; alignment is pure.
func (a *Align) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(KindAlign)
}
