package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mkeller/taskpilot/internal/tools"
)

// RemoteToolPrefix namespaces every bridged tool so remote names can
// never collide with the reserved built-ins.
const RemoteToolPrefix = "mcp_"

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// ToolCaller is the slice of Client the bridge needs.
type ToolCaller interface {
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolOutput, error)
}

// RemoteToolError reports that a remote tool ran and explicitly
// returned a failure result. The message is the tool's own output.
type RemoteToolError struct {
	Tool    string
	Message string
}

// Error implements the error interface.
func (e *RemoteToolError) Error() string {
	return fmt.Sprintf("remote tool %s failed: %s", e.Tool, e.Message)
}

// BridgeTools discovers tools from the provider and registers them on
// the registry under [RemoteToolPrefix], tagged [tools.OriginRemote].
// The merge happens once per run; rediscovery is deliberately absent.
// It returns the number of tools registered.
func BridgeTools(ctx context.Context, caller ToolCaller, registry *tools.Registry, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	remote, err := caller.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("list remote tools: %w", err)
	}

	count := 0
	for _, td := range remote {
		name := BridgedName(td.Name)
		registry.Register(bridgeTool(caller, name, td))
		count++

		logger.Debug("bridged remote tool",
			"remote_name", td.Name,
			"name", name,
		)
	}

	return count, nil
}

// BridgedName generates the registry name for a remote tool. The remote
// name is sanitized to lowercase alphanumerics and underscores before
// the prefix is applied.
func BridgedName(remoteName string) string {
	return RemoteToolPrefix + sanitize(remoteName)
}

// bridgeTool creates a registry tool that proxies calls to the provider.
func bridgeTool(caller ToolCaller, name string, td ToolDefinition) *tools.Tool {
	// Capture the original remote name; the prefix is ours, not the provider's.
	remoteName := td.Name

	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		InputSchema: td.InputSchema,
		Origin:      tools.OriginRemote,
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var args map[string]any
			if len(input) > 0 {
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
				}
			}

			out, err := caller.CallTool(ctx, remoteName, args)
			if err != nil {
				return "", err
			}
			if out.IsError {
				return "", &RemoteToolError{Tool: remoteName, Message: out.Text}
			}
			return out.Text, nil
		},
	}
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}
