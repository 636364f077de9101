package services

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes an external command. Stage handlers accept one so
// tests can capture invocations instead of spawning processes.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the command and folds its combined output into the error on
// failure.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
