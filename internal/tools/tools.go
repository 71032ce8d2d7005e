// Package tools defines the tools available to the agent: the registry
// that merges built-in and remote tools into one namespace, and the
// built-in executors (shell, file I/O).
package tools

import (
	"context"
	"encoding/json"
	"sort"
)

// Reserved built-in tool names. Remote tools are registered under the
// provider prefix, so they can never collide with these.
const (
	BashToolName      = "bash"
	ReadFileToolName  = "read_file"
	WriteFileToolName = "write_file"
	ListFilesToolName = "list_files"
)

// Origin records where a tool executes. It is fixed at registration
// time; dispatch never infers it from the tool's name.
type Origin int

const (
	// OriginBuiltin tools execute in-process.
	OriginBuiltin Origin = iota
	// OriginRemote tools are proxied to the tool-provider child.
	OriginRemote
)

// String returns a short label for logs and the tools listing.
func (o Origin) String() string {
	switch o {
	case OriginBuiltin:
		return "builtin"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Handler executes a tool against its raw JSON input. A returned error
// becomes an is_error tool result for the model; it never aborts the
// conversation loop.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Origin      Origin
	Handler     Handler
}

// Registry holds the merged tool namespace for one agent run. The set
// is built once at startup and not mutated afterwards; mid-run changes
// to remote tool availability are deliberately not observed.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry. A duplicate name replaces the
// earlier registration.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool by name with the given raw JSON input. Dispatch
// is total: every name yields either a result or an error, and an
// unregistered name yields *UnknownToolError.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &UnknownToolError{Name: name}
	}
	return tool.Handler(ctx, input)
}
