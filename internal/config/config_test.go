package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskpilot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
anthropic:
  api_key: test-key
agent:
  model: test-model
  max_turns: 5
  max_duration_sec: 120
tool_provider:
  command: /usr/local/bin/task-server
  args: ["--stdio"]
  env: ["TOKEN=abc"]
workspace:
  path: /tmp/work
shell:
  denied_patterns: ["shutdown"]
  default_timeout_sec: 10
transcript:
  enabled: true
  path: runs.db
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("api_key = %q", cfg.Anthropic.APIKey)
	}
	if cfg.Agent.Model != "test-model" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Agent.MaxTurns != 5 {
		t.Errorf("max_turns = %d", cfg.Agent.MaxTurns)
	}
	if cfg.MaxDuration() != 2*time.Minute {
		t.Errorf("MaxDuration = %v, want 2m", cfg.MaxDuration())
	}
	if cfg.Provider.Command != "/usr/local/bin/task-server" {
		t.Errorf("provider command = %q", cfg.Provider.Command)
	}
	if len(cfg.Provider.Args) != 1 || cfg.Provider.Args[0] != "--stdio" {
		t.Errorf("provider args = %v", cfg.Provider.Args)
	}
	if cfg.Workspace.Path != "/tmp/work" {
		t.Errorf("workspace = %q", cfg.Workspace.Path)
	}
	if !cfg.Transcript.Enabled || cfg.Transcript.Path != "runs.db" {
		t.Errorf("transcript = %+v", cfg.Transcript)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
anthropic:
  api_key: k
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxTurns != 20 {
		t.Errorf("max_turns default = %d, want 20", cfg.Agent.MaxTurns)
	}
	if cfg.Shell.DefaultTimeoutSec != 30 {
		t.Errorf("default_timeout_sec default = %d, want 30", cfg.Shell.DefaultTimeoutSec)
	}
	if cfg.Transcript.Path != "taskpilot.db" {
		t.Errorf("transcript path default = %q", cfg.Transcript.Path)
	}
	if len(cfg.Shell.DeniedPatterns) == 0 {
		t.Error("expected default denied patterns")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_TP_KEY", "from-env")
	path := writeConfig(t, `
anthropic:
  api_key: ${TEST_TP_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Anthropic.APIKey != "from-env" {
		t.Errorf("api_key = %q, want from-env", cfg.Anthropic.APIKey)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "anthropic: [not: valid")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed YAML should fail")
	}
}

func TestAPIKeyFallsBackToEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	cfg := Default()
	if got := cfg.APIKey(); got != "env-key" {
		t.Errorf("APIKey = %q, want env-key", got)
	}

	cfg.Anthropic.APIKey = "file-key"
	if got := cfg.APIKey(); got != "file-key" {
		t.Errorf("APIKey = %q, want file-key (file wins)", got)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/does/not/exist.yaml"); err == nil {
		t.Fatal("explicit missing path should fail")
	}
}

func TestFindConfigExplicit(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")
	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
}
