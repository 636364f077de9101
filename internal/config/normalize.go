package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizePipeline(); err != nil {
		return err
	}
	c.normalizeTranscription()
	c.normalizeDiarization()
	c.normalizeDownstream()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		c.Paths.WorkspaceDir = defaultWorkspaceDir
	}
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	stateDir := filepath.Join(c.Paths.WorkspaceDir, defaultStateDirName)
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = filepath.Join(stateDir, "cache")
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(stateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() error {
	c.Pipeline.Definition = strings.TrimSpace(c.Pipeline.Definition)
	if strings.HasPrefix(c.Pipeline.Definition, "~") {
		expanded, err := expandPath(c.Pipeline.Definition)
		if err != nil {
			return fmt.Errorf("pipeline.definition: %w", err)
		}
		c.Pipeline.Definition = expanded
	}
	c.Pipeline.Definition = c.ResolveWorkspacePath(c.Pipeline.Definition)
	c.Pipeline.Audio = strings.TrimSpace(c.Pipeline.Audio)
	if c.Pipeline.Audio == "" {
		c.Pipeline.Audio = defaultAudio
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = defaultWorkers
	}
	return nil
}

func (c *Config) normalizeTranscription() {
	c.Transcription.Mode = strings.ToLower(strings.TrimSpace(c.Transcription.Mode))
	if c.Transcription.Mode == "" {
		c.Transcription.Mode = defaultTranscriptionMode
	}
	c.Transcription.WhisperXModel = strings.TrimSpace(c.Transcription.WhisperXModel)
	if c.Transcription.WhisperXModel == "" {
		c.Transcription.WhisperXModel = defaultWhisperXModel
	}
	c.Transcription.VADMethod = strings.ToLower(strings.TrimSpace(c.Transcription.VADMethod))
	if c.Transcription.VADMethod == "" {
		c.Transcription.VADMethod = defaultVADMethod
	}
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
	c.Transcription.HFToken = strings.TrimSpace(c.Transcription.HFToken)
	if c.Transcription.HFToken == "" {
		for _, key := range []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.Transcription.HFToken = strings.TrimSpace(value)
				break
			}
		}
	}
}

func (c *Config) normalizeDiarization() {
	command := make([]string, 0, len(c.Diarization.Command))
	for _, arg := range c.Diarization.Command {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			command = append(command, trimmed)
		}
	}
	c.Diarization.Command = command
	c.Diarization.Device = strings.TrimSpace(c.Diarization.Device)
	if c.Diarization.Device == "" {
		c.Diarization.Device = defaultDiarizationDevice
	}
}

func (c *Config) normalizeDownstream() {
	for i := range c.Downstream {
		step := &c.Downstream[i]
		step.Name = strings.TrimSpace(step.Name)
		step.Inputs = trimAll(step.Inputs)
		step.Outputs = trimAll(step.Outputs)
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
