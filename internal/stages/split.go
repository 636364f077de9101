package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"parley/internal/logging"
	"parley/internal/services"
	"parley/internal/splitter"
	"parley/internal/stage"
	"parley/internal/transcript"
)

// Split parameter names.
const (
	ParamMergeGap        = "merge_gap"
	ParamBoundsTolerance = "bounds_tolerance"
)

// ProbeFunc resolves a recording's duration in seconds.
type ProbeFunc func(ctx context.Context, path string) (float64, error)

// Split cuts the recording into one slice per diarized speaker turn.
type Split struct {
	ffmpeg string
	probe  ProbeFunc
	run    services.CommandRunner
	// logger is handed to the splitter, which tags its own component.
	logger *slog.Logger
}

// NewSplit constructs a split handler. A nil probe uses ffprobeBinary.
func NewSplit(ffmpegBinary, ffprobeBinary string, probe ProbeFunc, runner services.CommandRunner, logger *slog.Logger) *Split {
	if probe == nil {
		probe = func(ctx context.Context, path string) (float64, error) {
			return splitter.Probe(ctx, ffprobeBinary, path)
		}
	}
	return &Split{
		ffmpeg: ffmpegBinary,
		probe:  probe,
		run:    runner,
		logger: logger,
	}
}

// Execute plans slices from Inputs[1] against the audio in Inputs[0] and
// writes them into the directory Outputs[0].
func (s *Split) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	if err := requireIO(req, 2, 1); err != nil {
		return stage.Result{}, err
	}
	mergeGap, err := req.Params.Float(ParamMergeGap, 0)
	if err != nil {
		return stage.Result{}, err
	}
	tolerance, err := req.Params.Float(ParamBoundsTolerance, 0)
	if err != nil {
		return stage.Result{}, err
	}

	audio := req.Inputs[0]
	intervals, err := transcript.LoadIntervals(req.Inputs[1])
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrValidation, req.Kind, "load segments", req.Inputs[1], err)
	}
	duration, err := s.probe(ctx, audio)
	if err != nil {
		return stage.Result{}, err
	}
	slices, err := splitter.Plan(intervals, duration, splitter.Options{MergeGap: mergeGap, Tolerance: tolerance})
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrValidation, req.Kind, "plan", audio, err)
	}

	var opts []splitter.Option
	if s.run != nil {
		opts = append(opts, splitter.WithCommandRunner(s.run))
	}
	sp := splitter.New(s.ffmpeg, logging.WithContext(ctx, s.logger), opts...)
	if _, err := sp.Split(ctx, audio, duration, slices, req.Outputs[0]); err != nil {
		return stage.Result{}, err
	}
	return stage.Result{}, nil
}

// HealthCheck verifies ffmpeg is installed.
func (s *Split) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(s.ffmpeg); err != nil {
		return stage.Unhealthy(KindSplit, fmt.Sprintf("ffmpeg binary %q not found", s.ffmpeg))
	}
	return stage.Healthy(KindSplit)
}
