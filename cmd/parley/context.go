package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/logging"
	"parley/internal/pipeline"
	"parley/internal/stage"
	"parley/internal/stages"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// logger builds the console logger described by the loaded configuration.
func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// pipelineFor loads the configured pipeline definition and the registry its
// steps resolve against.
func (c *commandContext) pipelineFor(definitionPath string, logger *slog.Logger) (pipeline.Definition, *stage.Registry, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return pipeline.Definition{}, nil, err
	}
	reg := stages.NewRegistry(cfg, logger)

	var def pipeline.Definition
	if path := strings.TrimSpace(definitionPath); path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return pipeline.Definition{}, nil, err
		}
		def, err = pipeline.LoadDefinition(expanded, cfg.Paths.WorkspaceDir)
		if err != nil {
			return pipeline.Definition{}, nil, err
		}
	} else {
		def, err = pipeline.LoadForConfig(cfg)
		if err != nil {
			return pipeline.Definition{}, nil, err
		}
	}
	if err := def.Validate(reg); err != nil {
		return pipeline.Definition{}, nil, err
	}
	return def, reg, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
