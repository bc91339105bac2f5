package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/orcacoder/orca/internal/agent"
)

// ReadFileTool reads a file's content within the workspace.
type ReadFileTool struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{resolver: Resolver{Root: workspace}, logger: slog.Default()}
}

func (t *ReadFileTool) Name() string         { return "read_file" }
func (t *ReadFileTool) Description() string  { return "Reads a file's contents from the workspace." }
func (t *ReadFileTool) Risk() agent.RiskTier { return agent.RiskReadOnly }
func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}
func (t *ReadFileTool) SetLogger(l *slog.Logger) { t.logger = l }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return agent.Error("path is required", ""), nil
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return agent.Error(fmt.Sprintf("file not found: %s", path), "use list_dir to check the directory contents"), nil
		}
		return agent.Error(err.Error(), ""), nil
	}
	return agent.Success(string(data)), nil
}

// WriteFileTool overwrites (or appends to) a file's contents, grounded on the
// teacher's write tool: resolve within workspace, create parent directories,
// truncate-or-append per flag.
type WriteFileTool struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{resolver: Resolver{Root: workspace}, logger: slog.Default()}
}

func (t *WriteFileTool) Name() string         { return "write_file" }
func (t *WriteFileTool) Description() string  { return "Writes content to a file in the workspace (overwrites by default)." }
func (t *WriteFileTool) Risk() agent.RiskTier { return agent.RiskModerate }
func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"},
			"append": {"type": "boolean"}
		},
		"required": ["path", "content"]
	}`)
}
func (t *WriteFileTool) SetLogger(l *slog.Logger) { t.logger = l }

// MutationPath implements agent.FileMutator.
func (t *WriteFileTool) MutationPath(args map[string]any) (string, bool) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", false
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return "", false
	}
	return resolved, true
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return agent.Error("path is required", ""), nil
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return agent.Error(fmt.Sprintf("create directory: %v", err), ""), nil
	}

	if append_, _ := args["append"].(bool); append_ {
		f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return agent.Error(fmt.Sprintf("open file: %v", err), ""), nil
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return agent.Error(fmt.Sprintf("write file: %v", err), ""), nil
		}
		return agent.Success(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
	}

	if err := writeFileWithRetry(ctx, resolved, []byte(content), 0o644); err != nil {
		return agent.Error(fmt.Sprintf("write file: %v", err), ""), nil
	}
	return agent.Success(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// EditFileTool performs a single old-string/new-string replacement.
type EditFileTool struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewEditFileTool(workspace string) *EditFileTool {
	return &EditFileTool{resolver: Resolver{Root: workspace}, logger: slog.Default()}
}

func (t *EditFileTool) Name() string         { return "edit_file" }
func (t *EditFileTool) Description() string  { return "Replaces one occurrence of old_string with new_string in a file." }
func (t *EditFileTool) Risk() agent.RiskTier { return agent.RiskModerate }
func (t *EditFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"old_string": {"type": "string"},
			"new_string": {"type": "string"}
		},
		"required": ["path", "old_string", "new_string"]
	}`)
}
func (t *EditFileTool) SetLogger(l *slog.Logger) { t.logger = l }

func (t *EditFileTool) MutationPath(args map[string]any) (string, bool) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", false
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return "", false
	}
	return resolved, true
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	path, _ := args["path"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)
	if path == "" || oldStr == "" {
		return agent.Error("path and old_string are required", ""), nil
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	content := string(data)
	updated, err := applyUniqueReplace(content, oldStr, newStr)
	if err != nil {
		return agent.Error(err.Error(), "re-read the file to confirm exact text, or include more surrounding context to make it unique"), nil
	}
	if err := writeFileWithRetry(ctx, resolved, []byte(updated), 0o644); err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	return agent.Success(fmt.Sprintf("replaced 1 occurrence in %s", path)), nil
}

// applyUniqueReplace replaces oldStr with newStr in content, requiring a unique
// match. It first tries an exact match; when that yields no candidates, it falls
// back to an indentation-normalised match (leading whitespace on each line of
// oldStr stripped and compared against similarly normalised windows of content),
// per spec.md §9 open question (b). "Two or more candidates" at either stage is
// ambiguous and fails rather than guessing.
func applyUniqueReplace(content, oldStr, newStr string) (string, error) {
	if count := strings.Count(content, oldStr); count > 0 {
		if count > 1 {
			return "", fmt.Errorf("old_string is not unique: %d occurrences found", count)
		}
		return strings.Replace(content, oldStr, newStr, 1), nil
	}

	normOld := normalizeIndent(oldStr)
	oldLines := strings.Split(oldStr, "\n")
	contentLines := strings.Split(content, "\n")

	var matchStart = -1
	matchCount := 0
	for i := 0; i+len(oldLines) <= len(contentLines); i++ {
		window := strings.Join(contentLines[i:i+len(oldLines)], "\n")
		if normalizeIndent(window) == normOld {
			matchCount++
			matchStart = i
		}
	}
	if matchCount == 0 {
		return "", fmt.Errorf("old_string not found in file")
	}
	if matchCount > 1 {
		return "", fmt.Errorf("old_string is not unique: %d indentation-normalised occurrences found", matchCount)
	}

	replacementLines := strings.Split(newStr, "\n")
	out := make([]string, 0, len(contentLines)-len(oldLines)+len(replacementLines))
	out = append(out, contentLines[:matchStart]...)
	out = append(out, replacementLines...)
	out = append(out, contentLines[matchStart+len(oldLines):]...)
	return strings.Join(out, "\n"), nil
}

// normalizeIndent strips each line's leading whitespace so two blocks that
// differ only in indentation level compare equal.
func normalizeIndent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimLeft(l, " \t")
	}
	return strings.Join(lines, "\n")
}

// ListDirTool lists a directory's immediate children.
type ListDirTool struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewListDirTool(workspace string) *ListDirTool {
	return &ListDirTool{resolver: Resolver{Root: workspace}, logger: slog.Default()}
}

func (t *ListDirTool) Name() string         { return "list_dir" }
func (t *ListDirTool) Description() string  { return "Lists the immediate contents of a directory." }
func (t *ListDirTool) Risk() agent.RiskTier { return agent.RiskReadOnly }
func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}
func (t *ListDirTool) SetLogger(l *slog.Logger) { t.logger = l }

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return agent.Success(strings.Join(names, "\n")), nil
}
