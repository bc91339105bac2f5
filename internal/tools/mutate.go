package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/orcacoder/orca/internal/agent"
)

// DeleteFileTool removes a file from the workspace. Dangerous risk tier: the
// operation is only reversible via the checkpoint the engine snapshots before
// this tool runs (spec.md §8 scenario 2).
type DeleteFileTool struct {
	resolver  Resolver
	workspace string
	logger    *slog.Logger
}

func NewDeleteFileTool(workspace string) *DeleteFileTool {
	return &DeleteFileTool{resolver: Resolver{Root: workspace}, workspace: workspace, logger: slog.Default()}
}

func (t *DeleteFileTool) Name() string         { return "delete_file" }
func (t *DeleteFileTool) Description() string  { return "Deletes a file from the workspace." }
func (t *DeleteFileTool) Risk() agent.RiskTier { return agent.RiskDangerous }
func (t *DeleteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}
func (t *DeleteFileTool) SetLogger(l *slog.Logger) { t.logger = l }

// MutationPath implements agent.FileMutator, so the engine checkpoints the file
// before this call runs.
func (t *DeleteFileTool) MutationPath(args map[string]any) (string, bool) {
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

func (t *DeleteFileTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return agent.Error("path is required", ""), nil
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	if err := CheckPathSafety(resolved, t.workspace); err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	if err := os.Remove(resolved); err != nil {
		if os.IsNotExist(err) {
			return agent.Error(fmt.Sprintf("file not found: %s", path), "use list_dir to check the directory contents"), nil
		}
		return agent.Error(err.Error(), ""), nil
	}
	return agent.Success(fmt.Sprintf("Deleted: %s", path)), nil
}

// MoveFileTool renames/moves a file within the workspace.
type MoveFileTool struct {
	resolver  Resolver
	workspace string
	logger    *slog.Logger
}

func NewMoveFileTool(workspace string) *MoveFileTool {
	return &MoveFileTool{resolver: Resolver{Root: workspace}, workspace: workspace, logger: slog.Default()}
}

func (t *MoveFileTool) Name() string         { return "move_file" }
func (t *MoveFileTool) Description() string  { return "Moves or renames a file within the workspace." }
func (t *MoveFileTool) Risk() agent.RiskTier { return agent.RiskModerate }
func (t *MoveFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"source": {"type": "string"},
			"destination": {"type": "string"}
		},
		"required": ["source", "destination"]
	}`)
}
func (t *MoveFileTool) SetLogger(l *slog.Logger) { t.logger = l }

// MutationPath checkpoints the source, the file actually at risk of loss.
func (t *MoveFileTool) MutationPath(args map[string]any) (string, bool) {
	source, _ := args["source"].(string)
	if source == "" {
		return "", false
	}
	resolved, err := t.resolver.Resolve(source)
	if err != nil {
		return "", false
	}
	return resolved, true
}

func (t *MoveFileTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	source, _ := args["source"].(string)
	dest, _ := args["destination"].(string)
	if source == "" || dest == "" {
		return agent.Error("source and destination are required", ""), nil
	}
	resolvedSrc, err := t.resolver.Resolve(source)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	resolvedDst, err := t.resolver.Resolve(dest)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	if err := CheckPathSafety(resolvedSrc, t.workspace); err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0o755); err != nil {
		return agent.Error(fmt.Sprintf("create destination directory: %v", err), ""), nil
	}
	if err := os.Rename(resolvedSrc, resolvedDst); err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	return agent.Success(fmt.Sprintf("moved %s to %s", source, dest)), nil
}
