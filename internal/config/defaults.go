package config

const (
	defaultWorkspaceDir      = "."
	defaultStateDirName      = ".parley"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
	defaultAudio             = "audio.wav"
	defaultWorkers           = 2
	defaultRetries           = 1
	defaultMergeThreshold    = 0.5
	defaultNearestTolerance  = 0.2
	defaultTranscriptionMode = ModeSlices
	defaultWhisperXModel     = "large-v3"
	defaultVADMethod         = "silero"
	defaultLanguage          = "en"
	defaultMinSeconds        = 0.1
	defaultDiarizationDevice = "cpu"
)

// Transcription modes.
const (
	ModeSlices = "slices"
	ModeFull   = "full"
)

// defaultDiarizationCommand runs the pyannote wrapper that writes RTTM.
var defaultDiarizationCommand = []string{
	"python3", "diarize.py",
	"--device", "{param:device}",
	"--output", "{output}",
	"{input}",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
		},
		Pipeline: Pipeline{
			Audio:          defaultAudio,
			Workers:        defaultWorkers,
			DefaultRetries: defaultRetries,
		},
		Alignment: Alignment{
			MergeThreshold:   defaultMergeThreshold,
			NearestTolerance: defaultNearestTolerance,
		},
		Transcription: Transcription{
			Mode:          defaultTranscriptionMode,
			WhisperXModel: defaultWhisperXModel,
			VADMethod:     defaultVADMethod,
			Language:      defaultLanguage,
			MinSeconds:    defaultMinSeconds,
		},
		Diarization: Diarization{
			Command: append([]string(nil), defaultDiarizationCommand...),
			Device:  defaultDiarizationDevice,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
