// Package config handles taskpilot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./taskpilot.yaml, ~/.config/taskpilot/config.yaml,
// /etc/taskpilot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"taskpilot.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskpilot", "config.yaml"))
	}

	paths = append(paths, "/etc/taskpilot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all taskpilot configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Agent      AgentConfig      `yaml:"agent"`
	Provider   ProviderConfig   `yaml:"tool_provider"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Shell      ShellConfig      `yaml:"shell"`
	Transcript TranscriptConfig `yaml:"transcript"`
	LogLevel   string           `yaml:"log_level"`
}

// AnthropicConfig defines Anthropic API settings. The API key may be
// left empty here, in which case the ANTHROPIC_API_KEY environment
// variable is used.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// AgentConfig defines conversation loop settings.
type AgentConfig struct {
	// Model is the model identifier sent to the Anthropic API.
	Model string `yaml:"model"`
	// MaxTurns bounds the number of model calls per run.
	MaxTurns int `yaml:"max_turns"`
	// MaxDurationSec is the wall-clock budget for a whole run (0 = none).
	MaxDurationSec int `yaml:"max_duration_sec"`
	// SystemPrompt overrides the built-in system prompt when non-empty.
	SystemPrompt string `yaml:"system_prompt"`
}

// ProviderConfig defines the tool-provider child process. The child is
// spoken to over newline-delimited JSON-RPC on its stdin/stdout.
type ProviderConfig struct {
	// Command is the executable to run. Empty disables remote tools.
	Command string `yaml:"command"`
	// Args are command-line arguments passed to the executable.
	Args []string `yaml:"args"`
	// Env are additional environment variables for the child
	// (format: "KEY=VALUE"), appended to the inherited environment.
	Env []string `yaml:"env"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file tool operations. All file
	// tool paths are resolved inside it. Empty means current directory.
	Path string `yaml:"path"`
}

// ShellConfig defines shell execution policy for the bash tool.
type ShellConfig struct {
	// WorkingDir sets the working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command substrings to block (e.g. "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// AllowedPrefixes limits commands to those starting with these
	// prefixes. Empty means all commands are allowed (subject to
	// denied patterns).
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
	// DefaultTimeoutSec is the per-command timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
	// MaxOutputKB caps captured command output (default 100).
	MaxOutputKB int `yaml:"max_output_kb"`
}

// TranscriptConfig defines run transcript persistence.
type TranscriptConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is the SQLite database file (default "taskpilot.db").
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can live outside the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Default returns a Config populated with defaults. Loading a file
// overrides fields the file sets.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:    "claude-sonnet-4-20250514",
			MaxTurns: 20,
		},
		Shell: ShellConfig{
			DeniedPatterns: []string{
				"rm -rf /",
				"rm -rf /*",
				"mkfs",
				"dd if=",
				"> /dev/sd",
				":(){ :|:& };:",
			},
			DefaultTimeoutSec: 30,
			MaxOutputKB:       100,
		},
		Transcript: TranscriptConfig{
			Path: "taskpilot.db",
		},
		LogLevel: "info",
	}
}

// APIKey resolves the Anthropic API key from the config file or the
// ANTHROPIC_API_KEY environment variable, in that order.
func (c *Config) APIKey() string {
	if c.Anthropic.APIKey != "" {
		return c.Anthropic.APIKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// MaxDuration returns the run wall-clock budget, or 0 when unlimited.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Agent.MaxDurationSec) * time.Second
}
