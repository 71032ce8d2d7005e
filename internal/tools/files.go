package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes caps file content returned to the model.
const maxReadBytes = 50 * 1024

// FileTools provides the read_file, write_file, and list_files tools,
// sandboxed to a workspace directory.
type FileTools struct {
	workspace string
}

// NewFileTools creates file tools rooted at workspace. An empty
// workspace means the current directory.
func NewFileTools(workspace string) *FileTools {
	if workspace == "" {
		workspace = "."
	}
	return &FileTools{workspace: workspace}
}

// Tools returns the three file tool definitions.
func (ft *FileTools) Tools() []*Tool {
	return []*Tool{
		{
			Name:        ReadFileToolName,
			Description: "Read the contents of a file at a path relative to the workspace. Supports line-based offset and limit for large files.",
			InputSchema: GenerateSchema[readFileInput](),
			Origin:      OriginBuiltin,
			Handler:     ft.handleRead,
		},
		{
			Name:        WriteFileToolName,
			Description: "Write content to a file at a path relative to the workspace, creating parent directories as needed. Overwrites existing files.",
			InputSchema: GenerateSchema[writeFileInput](),
			Origin:      OriginBuiltin,
			Handler:     ft.handleWrite,
		},
		{
			Name:        ListFilesToolName,
			Description: "List the entries of a directory relative to the workspace. Directories are suffixed with a slash.",
			InputSchema: GenerateSchema[listFilesInput](),
			Origin:      OriginBuiltin,
			Handler:     ft.handleList,
		},
	}
}

type readFileInput struct {
	Path   string `json:"path" jsonschema:"required" jsonschema_description:"Relative file path within the workspace."`
	Offset int    `json:"offset,omitempty" jsonschema_description:"1-based line number to start reading from."`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Maximum number of lines to return."`
}

type writeFileInput struct {
	Path    string `json:"path" jsonschema:"required" jsonschema_description:"Relative file path within the workspace."`
	Content string `json:"content" jsonschema:"required" jsonschema_description:"Full content to write."`
}

type listFilesInput struct {
	Path string `json:"path,omitempty" jsonschema_description:"Relative directory path within the workspace (default: workspace root)."`
}

// resolvePath converts a tool-supplied path to an absolute path inside
// the workspace. Paths that escape the workspace are rejected.
func (ft *FileTools) resolvePath(path string) (string, error) {
	workspaceAbs, err := filepath.Abs(ft.workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}

	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Clean(filepath.Join(workspaceAbs, path))
	}

	if abs != workspaceAbs && !strings.HasPrefix(abs, workspaceAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return abs, nil
}

func (ft *FileTools) handleRead(_ context.Context, input json.RawMessage) (string, error) {
	var in readFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid read_file input: %w", err)
	}
	if in.Path == "" {
		return "", fmt.Errorf("path is required")
	}

	abs, err := ft.resolvePath(in.Path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", in.Path)
		}
		return "", fmt.Errorf("read file: %w", err)
	}

	content := string(data)

	if in.Offset > 0 || in.Limit > 0 {
		lines := strings.Split(content, "\n")

		start := 0
		if in.Offset > 0 {
			start = in.Offset - 1
		}
		if start >= len(lines) {
			return "", fmt.Errorf("offset %d exceeds file length (%d lines)", in.Offset, len(lines))
		}

		end := len(lines)
		if in.Limit > 0 && start+in.Limit < end {
			end = start + in.Limit
		}

		content = strings.Join(lines[start:end], "\n")
		if start > 0 || end < len(lines) {
			content = fmt.Sprintf("[Lines %d-%d of %d]\n%s", start+1, end, len(lines), content)
		}
	}

	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n\n[... truncated, use offset/limit for more ...]"
	}

	return content, nil
}

func (ft *FileTools) handleWrite(_ context.Context, input json.RawMessage) (string, error) {
	var in writeFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid write_file input: %w", err)
	}
	if in.Path == "" {
		return "", fmt.Errorf("path is required")
	}

	abs, err := ft.resolvePath(in.Path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(in.Content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	return fmt.Sprintf("Wrote %d bytes to %s", len(in.Content), in.Path), nil
}

func (ft *FileTools) handleList(_ context.Context, input json.RawMessage) (string, error) {
	var in listFilesInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("invalid list_files input: %w", err)
		}
	}
	if in.Path == "" {
		in.Path = "."
	}

	abs, err := ft.resolvePath(in.Path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory not found: %s", in.Path)
		}
		return "", fmt.Errorf("list directory: %w", err)
	}

	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	var sb strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
