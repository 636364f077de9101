package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"parley/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, twoStepDefinition)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "upper -> count")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite guard, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateRejectsCycle(t *testing.T) {
	env := setupCLITestEnv(t, twoStepDefinition)
	cyclic := filepath.Join(env.baseDir, "cyclic.toml")
	testsupport.WriteText(t, cyclic, `
[[steps]]
name = "a"
kind = "command"
inputs = ["b.txt"]
outputs = ["a.txt"]

[steps.params]
command = ["true"]

[[steps]]
name = "b"
kind = "command"
inputs = ["a.txt"]
outputs = ["b.txt"]

[steps.params]
command = ["true"]
`)
	_, _, err := runCLI(t, []string{"config", "validate", "--pipeline", cyclic}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}
