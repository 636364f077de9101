package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkspaceDir string `toml:"workspace_dir"`
	CacheDir     string `toml:"cache_dir"`
	LogDir       string `toml:"log_dir"`
}

// Pipeline contains executor settings.
type Pipeline struct {
	// Definition points at a TOML pipeline definition. Empty selects the
	// built-in diarize, split, transcribe, align pipeline.
	Definition     string `toml:"definition"`
	Audio          string `toml:"audio"`
	Workers        int    `toml:"workers"`
	DefaultRetries int    `toml:"default_retries"`
}

// Alignment contains the interval merger thresholds in seconds.
type Alignment struct {
	MergeThreshold   float64 `toml:"merge_threshold"`
	NearestTolerance float64 `toml:"nearest_tolerance"`
}

// Splitter contains segment slicing settings in seconds.
type Splitter struct {
	MergeGap        float64 `toml:"merge_gap"`
	BoundsTolerance float64 `toml:"bounds_tolerance"`
}

// Transcription contains WhisperX settings.
type Transcription struct {
	// Mode is "slices" (transcribe each speaker slice) or "full" (transcribe
	// the whole recording in parallel with diarization).
	Mode          string  `toml:"mode"`
	WhisperXModel string  `toml:"whisperx_model"`
	CUDA          bool    `toml:"cuda"`
	VADMethod     string  `toml:"vad_method"`
	HFToken       string  `toml:"hf_token"`
	Language      string  `toml:"language"`
	MinSeconds    float64 `toml:"min_seconds"`
}

// Diarization contains the external diarization command.
type Diarization struct {
	Command []string `toml:"command"`
	Device  string   `toml:"device"`
}

// DownstreamStep describes an optional command step appended after the
// transcript is produced (sentiment scoring, exports).
type DownstreamStep struct {
	Name    string   `toml:"name"`
	Command []string `toml:"command"`
	Inputs  []string `toml:"inputs"`
	Outputs []string `toml:"outputs"`
	Retries *int     `toml:"retries"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for parley.
//
// Configuration sections by subsystem:
//   - Paths: workspace, artifact cache, and log directories
//   - Pipeline: definition file, input recording, worker count, retries
//   - Alignment / Splitter: timing thresholds
//   - Transcription / Diarization: external model invocation
//   - Downstream: extra command steps
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths            `toml:"paths"`
	Pipeline      Pipeline         `toml:"pipeline"`
	Alignment     Alignment        `toml:"alignment"`
	Splitter      Splitter         `toml:"splitter"`
	Transcription Transcription    `toml:"transcription"`
	Diarization   Diarization      `toml:"diarization"`
	Downstream    []DownstreamStep `toml:"downstream"`
	Logging       Logging          `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/parley/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("parley.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the workspace, cache, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for audio slicing.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for duration probes.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// CacheDBPath returns the artifact cache database location.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Paths.CacheDir, "artifacts.db")
}

// LockPath returns the workspace run lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.WorkspaceDir, ".parley.lock")
}

// ResolveWorkspacePath anchors a relative path at the workspace directory.
func (c *Config) ResolveWorkspacePath(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(c.Paths.WorkspaceDir, value)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
