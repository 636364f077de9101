package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateDiarization(); err != nil {
		return err
	}
	if err := c.validateDownstream(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers < 1 {
		return errors.New("pipeline.workers must be at least 1")
	}
	if c.Pipeline.DefaultRetries < 0 {
		return errors.New("pipeline.default_retries must be zero or positive")
	}
	return nil
}

func (c *Config) validateTiming() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"alignment.merge_threshold", c.Alignment.MergeThreshold},
		{"alignment.nearest_tolerance", c.Alignment.NearestTolerance},
		{"splitter.merge_gap", c.Splitter.MergeGap},
		{"splitter.bounds_tolerance", c.Splitter.BoundsTolerance},
		{"transcription.min_seconds", c.Transcription.MinSeconds},
	}
	for _, field := range fields {
		if math.IsNaN(field.value) || math.IsInf(field.value, 0) || field.value < 0 {
			return fmt.Errorf("%s must be a finite value >= 0, got %v", field.name, field.value)
		}
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.Mode {
	case ModeSlices, ModeFull:
	default:
		return fmt.Errorf("transcription.mode: unsupported value %q (want %q or %q)", c.Transcription.Mode, ModeSlices, ModeFull)
	}
	switch c.Transcription.VADMethod {
	case "silero", "pyannote":
	default:
		return fmt.Errorf("transcription.vad_method: unsupported value %q (want silero or pyannote)", c.Transcription.VADMethod)
	}
	return nil
}

func (c *Config) validateDiarization() error {
	if len(c.Diarization.Command) == 0 {
		return errors.New("diarization.command must not be empty")
	}
	return nil
}

func (c *Config) validateDownstream() error {
	seen := make(map[string]struct{}, len(c.Downstream))
	for i, step := range c.Downstream {
		if step.Name == "" {
			return fmt.Errorf("downstream[%d].name must be set", i)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("downstream step %q declared twice", step.Name)
		}
		seen[step.Name] = struct{}{}
		if len(step.Command) == 0 {
			return fmt.Errorf("downstream step %q: command must not be empty", step.Name)
		}
		if len(step.Outputs) == 0 {
			return fmt.Errorf("downstream step %q: at least one output is required", step.Name)
		}
		if step.Retries != nil && *step.Retries < 0 {
			return fmt.Errorf("downstream step %q: retries must be zero or positive", step.Name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
