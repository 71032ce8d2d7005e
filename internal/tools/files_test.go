package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fileToolByName(t *testing.T, ft *FileTools, name string) *Tool {
	t.Helper()
	for _, tool := range ft.Tools() {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %q not found", name)
	return nil
}

func TestFileToolsWriteReadRoundTrip(t *testing.T) {
	ft := NewFileTools(t.TempDir())
	ctx := context.Background()

	write := fileToolByName(t, ft, WriteFileToolName)
	got, err := write.Handler(ctx, json.RawMessage(`{"path":"notes/hello.txt","content":"hello\nworld\n"}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if got != "Wrote 12 bytes to notes/hello.txt" {
		t.Errorf("write result = %q", got)
	}

	read := fileToolByName(t, ft, ReadFileToolName)
	got, err = read.Handler(ctx, json.RawMessage(`{"path":"notes/hello.txt"}`))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello\nworld\n" {
		t.Errorf("read result = %q", got)
	}
}

func TestFileToolsReadOffsetLimit(t *testing.T) {
	dir := t.TempDir()
	content := "one\ntwo\nthree\nfour\nfive"
	if err := os.WriteFile(filepath.Join(dir, "lines.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ft := NewFileTools(dir)
	read := fileToolByName(t, ft, ReadFileToolName)

	got, err := read.Handler(context.Background(), json.RawMessage(`{"path":"lines.txt","offset":2,"limit":2}`))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "[Lines 2-3 of 5]\ntwo\nthree"
	if got != want {
		t.Errorf("result = %q, want %q", got, want)
	}

	// Offset past EOF is an input error.
	if _, err := read.Handler(context.Background(), json.RawMessage(`{"path":"lines.txt","offset":99}`)); err == nil {
		t.Error("offset past EOF should fail")
	}
}

func TestFileToolsReadMissingFile(t *testing.T) {
	ft := NewFileTools(t.TempDir())
	read := fileToolByName(t, ft, ReadFileToolName)

	_, err := read.Handler(context.Background(), json.RawMessage(`{"path":"nope.txt"}`))
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Errorf("got %v, want file not found", err)
	}
}

func TestFileToolsWorkspaceEscape(t *testing.T) {
	ft := NewFileTools(t.TempDir())
	ctx := context.Background()

	escapes := []string{
		`{"path":"../outside.txt"}`,
		`{"path":"a/../../outside.txt"}`,
		`{"path":"/etc/passwd"}`,
	}

	read := fileToolByName(t, ft, ReadFileToolName)
	write := fileToolByName(t, ft, WriteFileToolName)
	for _, input := range escapes {
		if _, err := read.Handler(ctx, json.RawMessage(input)); err == nil ||
			!strings.Contains(err.Error(), "escapes workspace") {
			t.Errorf("read %s: got %v, want escape rejection", input, err)
		}
	}
	for _, input := range []string{
		`{"path":"../evil.txt","content":"x"}`,
		`{"path":"/tmp/evil.txt","content":"x"}`,
	} {
		if _, err := write.Handler(ctx, json.RawMessage(input)); err == nil ||
			!strings.Contains(err.Error(), "escapes workspace") {
			t.Errorf("write %s: got %v, want escape rejection", input, err)
		}
	}
}

func TestFileToolsList(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	ft := NewFileTools(dir)
	list := fileToolByName(t, ft, ListFilesToolName)

	got, err := list.Handler(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(got, "a.txt\n") {
		t.Errorf("result %q missing a.txt", got)
	}
	if !strings.Contains(got, "sub/\n") {
		t.Errorf("result %q missing sub/ with dir suffix", got)
	}
}

func TestFileToolsListEmptyAndMissing(t *testing.T) {
	ft := NewFileTools(t.TempDir())
	list := fileToolByName(t, ft, ListFilesToolName)
	ctx := context.Background()

	got, err := list.Handler(ctx, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got != "(empty directory)" {
		t.Errorf("result = %q, want (empty directory)", got)
	}

	if _, err := list.Handler(ctx, json.RawMessage(`{"path":"nope"}`)); err == nil ||
		!strings.Contains(err.Error(), "directory not found") {
		t.Errorf("got %v, want directory not found", err)
	}
}

func TestFileToolsWriteCreatesParents(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTools(dir)
	write := fileToolByName(t, ft, WriteFileToolName)

	if _, err := write.Handler(context.Background(),
		json.RawMessage(`{"path":"deep/nested/dir/f.txt","content":"x"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "deep", "nested", "dir", "f.txt")); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestFileToolsReadTruncation(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("x", maxReadBytes+100)
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}

	ft := NewFileTools(dir)
	read := fileToolByName(t, ft, ReadFileToolName)

	got, err := read.Handler(context.Background(), json.RawMessage(`{"path":"big.txt"}`))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(got, "[... truncated") {
		t.Error("expected truncation note")
	}
	if len(got) > maxReadBytes+100 {
		t.Errorf("returned %d bytes, want capped near %d", len(got), maxReadBytes)
	}
}

func TestFileToolsWorkspaceDefault(t *testing.T) {
	ft := NewFileTools("")
	if ft.workspace != "." {
		t.Errorf("workspace = %q, want .", ft.workspace)
	}
}
