package stages

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"parley/internal/logging"
	"parley/internal/services"
	"parley/internal/stage"
)

// ParamCommand holds the argv template of a command step.
const ParamCommand = "command"

var placeholderPattern = regexp.MustCompile(`\{(input|output|param:[A-Za-z0-9_.-]+)\}`)

// Command runs an external program described by an argv template. It backs
// diarization and any downstream scorer.
type Command struct {
	run    services.CommandRunner
	logger *slog.Logger
}

// NewCommand constructs a command handler.
func NewCommand(runner services.CommandRunner, logger *slog.Logger) *Command {
	if runner == nil {
		runner = services.ExecRunner
	}
	return &Command{run: runner, logger: logging.NewComponentLogger(logger, "command")}
}

// Execute expands the template and runs it.
func (c *Command) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	template, err := req.Params.Strings(ParamCommand, nil)
	if err != nil {
		return stage.Result{}, err
	}
	argv, err := ExpandArgs(template, req)
	if err != nil {
		return stage.Result{}, err
	}
	for _, out := range req.Outputs {
		if err := ensureParent(out); err != nil {
			return stage.Result{}, err
		}
	}

	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("running command", logging.String("argv", strings.Join(argv, " ")))
	started := time.Now()
	if err := c.run(ctx, argv[0], argv[1:]...); err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, req.Kind, argv[0], "command failed", err)
	}
	logger.Debug("command finished", logging.Duration("elapsed", time.Since(started)))
	return stage.Result{}, nil
}

// HealthCheck always reports ready; each step's binary is checked by preflight.
func (c *Command) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(KindCommand)
}

// ExpandArgs substitutes placeholders in an argv template. A template element
// that is exactly {inputs} or {outputs} expands to every declared path;
// {input} and {output} name the first one and may sit inside a larger
// argument, as may {param:NAME}.
func ExpandArgs(template []string, req stage.Request) ([]string, error) {
	if len(template) == 0 || strings.TrimSpace(template[0]) == "" {
		return nil, services.Wrap(services.ErrConfiguration, req.Kind, "command",
			fmt.Sprintf("step %s has an empty command", req.Step), nil)
	}
	argv := make([]string, 0, len(template)+len(req.Inputs)+len(req.Outputs))
	for _, arg := range template {
		switch arg {
		case "{inputs}":
			argv = append(argv, req.Inputs...)
			continue
		case "{outputs}":
			argv = append(argv, req.Outputs...)
			continue
		}
		var expandErr error
		expanded := placeholderPattern.ReplaceAllStringFunc(arg, func(match string) string {
			name := match[1 : len(match)-1]
			value, err := placeholderValue(name, req)
			if err != nil && expandErr == nil {
				expandErr = err
			}
			return value
		})
		if expandErr != nil {
			return nil, expandErr
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

func placeholderValue(name string, req stage.Request) (string, error) {
	switch {
	case name == "input":
		if len(req.Inputs) == 0 {
			return "", services.Wrap(services.ErrConfiguration, req.Kind, "command",
				fmt.Sprintf("step %s uses {input} but declares no inputs", req.Step), nil)
		}
		return req.Inputs[0], nil
	case name == "output":
		if len(req.Outputs) == 0 {
			return "", services.Wrap(services.ErrConfiguration, req.Kind, "command",
				fmt.Sprintf("step %s uses {output} but declares no outputs", req.Step), nil)
		}
		return req.Outputs[0], nil
	default:
		key := strings.TrimPrefix(name, "param:")
		if _, ok := req.Params[key]; !ok {
			return "", services.Wrap(services.ErrConfiguration, req.Kind, "command",
				fmt.Sprintf("step %s references unknown parameter %q", req.Step, key), nil)
		}
		return req.Params.String(key, "")
	}
}
