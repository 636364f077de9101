package stages

import (
	"log/slog"

	"parley/internal/config"
	"parley/internal/services"
	"parley/internal/services/whisperx"
	"parley/internal/stage"
)

// Option customizes the handlers built by NewRegistry.
type Option func(*options)

type options struct {
	runner      services.CommandRunner
	probe       ProbeFunc
	transcriber TranscriberFactory
}

// WithCommandRunner routes every external process through runner.
func WithCommandRunner(runner services.CommandRunner) Option {
	return func(o *options) { o.runner = runner }
}

// WithProbe replaces the ffprobe duration lookup.
func WithProbe(probe ProbeFunc) Option {
	return func(o *options) { o.probe = probe }
}

// WithTranscriber replaces the WhisperX service factory.
func WithTranscriber(factory TranscriberFactory) Option {
	return func(o *options) { o.transcriber = factory }
}

// NewRegistry registers the built-in kinds with parameter defaults taken
// from cfg. Changing one of these config values therefore changes the
// fingerprint of every step of that kind.
func NewRegistry(cfg *config.Config, logger *slog.Logger, opts ...Option) *stage.Registry {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	reg := stage.NewRegistry()
	reg.Register(KindCommand, NewCommand(o.runner, logger), nil)
	reg.Register(KindSegments, NewSegments(logger), nil)
	reg.Register(KindSplit, NewSplit(cfg.FFmpegBinary(), cfg.FFprobeBinary(), o.probe, o.runner, logger), stage.Params{
		ParamMergeGap:        cfg.Splitter.MergeGap,
		ParamBoundsTolerance: cfg.Splitter.BoundsTolerance,
	})
	reg.Register(KindTranscribe, NewTranscribe(cfg.Transcription.HFToken, o.transcriberFactory(logger), logger), stage.Params{
		ParamMode:       cfg.Transcription.Mode,
		ParamModel:      cfg.Transcription.WhisperXModel,
		ParamCUDA:       cfg.Transcription.CUDA,
		ParamVADMethod:  cfg.Transcription.VADMethod,
		ParamLanguage:   cfg.Transcription.Language,
		ParamMinSeconds: cfg.Transcription.MinSeconds,
	})
	reg.Register(KindAlign, NewAlign(logger), stage.Params{
		ParamMergeThreshold:   cfg.Alignment.MergeThreshold,
		ParamNearestTolerance: cfg.Alignment.NearestTolerance,
	})
	return reg
}

func (o options) transcriberFactory(logger *slog.Logger) TranscriberFactory {
	if o.transcriber != nil || o.runner == nil {
		return o.transcriber
	}
	return func(cfg whisperx.Config) Transcriber {
		svc := whisperx.NewService(cfg, logger)
		svc.WithCommandRunner(o.runner)
		return svc
	}
}
