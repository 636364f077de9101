package stages

import (
	"context"
	"log/slog"

	"parley/internal/logging"
	"parley/internal/rttm"
	"parley/internal/services"
	"parley/internal/stage"
	"parley/internal/transcript"
)

// Segments converts diarization RTTM into the segments JSON consumed by the
// splitter and the aligner.
type Segments struct {
	logger *slog.Logger
}

// NewSegments constructs a segments handler.
func NewSegments(logger *slog.Logger) *Segments {
	return &Segments{logger: logging.NewComponentLogger(logger, "segments")}
}

// Execute parses Inputs[0] and writes Outputs[0].
func (s *Segments) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	if err := requireIO(req, 1, 1); err != nil {
		return stage.Result{}, err
	}
	intervals, err := rttm.ParseFile(req.Inputs[0])
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrValidation, req.Kind, "parse", req.Inputs[0], err)
	}
	if err := ensureParent(req.Outputs[0]); err != nil {
		return stage.Result{}, err
	}
	if err := transcript.SaveIntervals(req.Outputs[0], intervals); err != nil {
		return stage.Result{}, err
	}

	speakers := map[string]struct{}{}
	for _, iv := range intervals {
		speakers[iv.Speaker] = struct{}{}
	}
	logging.WithContext(ctx, s.logger).Info("segments written",
		logging.String(logging.FieldEventType, "segments_written"),
		logging.Int("intervals", len(intervals)),
		logging.Int("speakers", len(speakers)),
	)
	return stage.Result{}, nil
}

// HealthCheck reports ready; parsing has no external dependencies.
func (s *Segments) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(KindSegments)
}
