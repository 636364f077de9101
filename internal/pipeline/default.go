package pipeline

import (
	"path/filepath"
	"strings"

	"parley/internal/config"
	"parley/internal/stage"
	"parley/internal/stages"
)

// Workspace-relative artifact locations of the built-in pipeline.
const (
	DiarizationDir    = "diarization"
	SegmentsFile      = "diarization/segments.json"
	SlicesDir         = "slices"
	FragmentsFile     = "transcription/fragments.json"
	TranscriptsDir    = "transcripts"
	StepDiarize       = "diarize"
	StepSegments      = "segments"
	StepSplit         = "split"
	StepTranscribe    = "transcribe"
	StepAlign         = "align"
	diarizationSuffix = ".rttm"
)

// DefaultDefinition builds the stock pipeline: diarize, segments, split,
// transcribe, align, followed by any configured downstream command steps.
// In full transcription mode the split step is omitted and transcription
// reads the recording directly, so it runs alongside diarization.
func DefaultDefinition(cfg *config.Config) Definition {
	audio := cfg.Pipeline.Audio
	recording := strings.TrimSuffix(filepath.Base(audio), filepath.Ext(audio))
	rttmPath := filepath.Join(DiarizationDir, recording+diarizationSuffix)
	transcriptPath := TranscriptPath(recording)

	steps := []Step{
		{
			Name:    StepDiarize,
			Kind:    stages.KindCommand,
			Inputs:  []string{audio},
			Outputs: []string{rttmPath},
			Params: stage.Params{
				stages.ParamCommand: append([]string(nil), cfg.Diarization.Command...),
				"device":            cfg.Diarization.Device,
			},
		},
		{
			Name:    StepSegments,
			Kind:    stages.KindSegments,
			Inputs:  []string{rttmPath},
			Outputs: []string{SegmentsFile},
		},
	}

	transcribeInput := audio
	if cfg.Transcription.Mode != config.ModeFull {
		steps = append(steps, Step{
			Name:    StepSplit,
			Kind:    stages.KindSplit,
			Inputs:  []string{audio, SegmentsFile},
			Outputs: []string{SlicesDir},
		})
		transcribeInput = SlicesDir
	}

	steps = append(steps,
		Step{
			Name:    StepTranscribe,
			Kind:    stages.KindTranscribe,
			Inputs:  []string{transcribeInput},
			Outputs: []string{FragmentsFile},
		},
		Step{
			Name:    StepAlign,
			Kind:    stages.KindAlign,
			Inputs:  []string{SegmentsFile, FragmentsFile},
			Outputs: []string{transcriptPath},
			Params:  stage.Params{stages.ParamRecording: recording},
		},
	)

	for _, ds := range cfg.Downstream {
		inputs := ds.Inputs
		if len(inputs) == 0 {
			inputs = []string{transcriptPath}
		}
		steps = append(steps, Step{
			Name:    ds.Name,
			Kind:    stages.KindCommand,
			Inputs:  append([]string(nil), inputs...),
			Outputs: append([]string(nil), ds.Outputs...),
			Params:  stage.Params{stages.ParamCommand: append([]string(nil), ds.Command...)},
			Retries: ds.Retries,
		})
	}

	def := Definition{Steps: steps}
	def.Resolve(cfg.Paths.WorkspaceDir)
	return def
}

// TranscriptPath is the workspace-relative location of the merged transcript
// for a recording.
func TranscriptPath(recording string) string {
	return filepath.Join(TranscriptsDir, recording+".json")
}

// LoadForConfig returns the configured pipeline definition, falling back to
// DefaultDefinition when none is set.
func LoadForConfig(cfg *config.Config) (Definition, error) {
	if strings.TrimSpace(cfg.Pipeline.Definition) == "" {
		return DefaultDefinition(cfg), nil
	}
	return LoadDefinition(cfg.Pipeline.Definition, cfg.Paths.WorkspaceDir)
}
