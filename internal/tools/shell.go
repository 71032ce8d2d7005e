package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxShellTimeout caps any caller-requested command timeout.
const maxShellTimeout = 5 * time.Minute

// ShellExec provides command execution for the bash tool.
type ShellExec struct {
	workingDir      string
	deniedPatterns  []string
	allowedPrefixes []string // Empty = allow all
	defaultTimeout  time.Duration
	maxOutputBytes  int
}

// ShellExecConfig configures the shell executor.
type ShellExecConfig struct {
	WorkingDir      string
	DeniedPatterns  []string
	AllowedPrefixes []string
	DefaultTimeout  time.Duration
	MaxOutputBytes  int
}

// NewShellExec creates a shell executor.
func NewShellExec(cfg ShellExecConfig) *ShellExec {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}
	return &ShellExec{
		workingDir:      cfg.WorkingDir,
		deniedPatterns:  cfg.DeniedPatterns,
		allowedPrefixes: cfg.AllowedPrefixes,
		defaultTimeout:  cfg.DefaultTimeout,
		maxOutputBytes:  cfg.MaxOutputBytes,
	}
}

type bashInput struct {
	Command    string `json:"command" jsonschema:"required" jsonschema_description:"The shell command to execute."`
	TimeoutSec int    `json:"timeout_sec,omitempty" jsonschema_description:"Optional timeout in seconds (default 30, max 300)."`
}

// Tool returns the bash tool definition backed by this executor.
func (s *ShellExec) Tool() *Tool {
	return &Tool{
		Name:        BashToolName,
		Description: "Execute a shell command and return its exit code and combined stdout/stderr output.",
		InputSchema: GenerateSchema[bashInput](),
		Origin:      OriginBuiltin,
		Handler:     s.handle,
	}
}

// handle runs a shell command. Execution failures (nonzero exit,
// timeout) are reported in the result text, not as errors — the model
// needs to see what went wrong and adapt. Only policy violations and
// malformed input surface as errors.
func (s *ShellExec) handle(ctx context.Context, input json.RawMessage) (string, error) {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid bash input: %w", err)
	}
	if in.Command == "" {
		return "", fmt.Errorf("command is required")
	}

	if err := s.checkPolicy(in.Command); err != nil {
		return "", err
	}

	timeout := s.defaultTimeout
	if in.TimeoutSec > 0 {
		timeout = time.Duration(in.TimeoutSec) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", in.Command)
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}

	// Interleave stdout and stderr the way a terminal would.
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	exitCode := 0
	note := ""
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		exitCode = -1
		note = fmt.Sprintf("[command timed out after %s]\n", timeout)
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			note = fmt.Sprintf("[%s]\n", err.Error())
		}
	}

	return fmt.Sprintf("Exit code: %d\n%s%s",
		exitCode, note, truncateOutput(output.String(), s.maxOutputBytes)), nil
}

// checkPolicy rejects commands matching a denied pattern or, when an
// allowlist is configured, commands outside it.
func (s *ShellExec) checkPolicy(command string) error {
	cmdLower := strings.ToLower(command)
	for _, denied := range s.deniedPatterns {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}

	if len(s.allowedPrefixes) > 0 {
		for _, prefix := range s.allowedPrefixes {
			if strings.HasPrefix(command, prefix) {
				return nil
			}
		}
		return fmt.Errorf("command not in allowlist")
	}
	return nil
}

// truncateOutput truncates output to maxBytes, adding a note if truncated.
func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}
