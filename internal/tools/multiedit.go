package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/orcacoder/orca/internal/agent"
)

// fileEdit is one {path, old_string, new_string} entry in a multi_edit call.
type fileEdit struct {
	Path      string `json:"path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

// MultiEditFileTool applies a batch of single-occurrence replacements across
// possibly-several files as one atomic operation, per spec.md §5: validate
// every edit against a read snapshot, compute final content per file, write
// sequentially, and on any failure restore the pre-write content of every
// already-written file.
type MultiEditFileTool struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewMultiEditFileTool(workspace string) *MultiEditFileTool {
	return &MultiEditFileTool{resolver: Resolver{Root: workspace}, logger: slog.Default()}
}

func (t *MultiEditFileTool) Name() string { return "multi_edit" }
func (t *MultiEditFileTool) Description() string {
	return "Applies a batch of old_string/new_string replacements across one or more files atomically: either all edits land or none do."
}
func (t *MultiEditFileTool) Risk() agent.RiskTier { return agent.RiskModerate }
func (t *MultiEditFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"edits": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"path": {"type": "string"},
						"old_string": {"type": "string"},
						"new_string": {"type": "string"}
					},
					"required": ["path", "old_string", "new_string"]
				}
			}
		},
		"required": ["edits"]
	}`)
}
func (t *MultiEditFileTool) SetLogger(l *slog.Logger) { t.logger = l }

func (t *MultiEditFileTool) parseEdits(args map[string]any) ([]fileEdit, error) {
	raw, ok := args["edits"]
	if !ok {
		return nil, fmt.Errorf("edits is required")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("edits is malformed: %w", err)
	}
	var edits []fileEdit
	if err := json.Unmarshal(b, &edits); err != nil {
		return nil, fmt.Errorf("edits is malformed: %w", err)
	}
	if len(edits) == 0 {
		return nil, fmt.Errorf("edits must contain at least one entry")
	}
	return edits, nil
}

// MutationPaths implements agent.MultiFileMutator: every distinct target path is
// checkpointed before Execute runs.
func (t *MultiEditFileTool) MutationPaths(args map[string]any) []string {
	edits, err := t.parseEdits(args)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool, len(edits))
	var paths []string
	for _, e := range edits {
		resolved, err := t.resolver.Resolve(e.Path)
		if err != nil || seen[resolved] {
			continue
		}
		seen[resolved] = true
		paths = append(paths, resolved)
	}
	return paths
}

func (t *MultiEditFileTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	edits, err := t.parseEdits(args)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}

	// Phase 1: validate every edit against a freshly read snapshot, and compute
	// each file's final content in memory without touching disk.
	type planned struct {
		resolved string
		final    []byte
	}
	order := make([]string, 0, len(edits))
	finals := make(map[string]planned, len(edits))
	for _, e := range edits {
		resolved, err := t.resolver.Resolve(e.Path)
		if err != nil {
			return agent.Error(err.Error(), ""), nil
		}
		base := finals[resolved]
		var content string
		if base.final != nil {
			content = string(base.final)
		} else {
			data, err := os.ReadFile(resolved)
			if err != nil {
				return agent.Error(fmt.Sprintf("read %s: %v", e.Path, err), ""), nil
			}
			content = string(data)
			order = append(order, resolved)
		}
		updated, err := applyUniqueReplace(content, e.OldString, e.NewString)
		if err != nil {
			return agent.Error(fmt.Sprintf("%s: %v", e.Path, err), "re-read the file to confirm exact text"), nil
		}
		finals[resolved] = planned{resolved: resolved, final: []byte(updated)}
	}

	// Phase 2: write sequentially, tracking what's already landed so a failure
	// partway through can be rolled back.
	written := make([]string, 0, len(order))
	preWrite := make(map[string][]byte, len(order))
	for _, resolved := range order {
		data, err := os.ReadFile(resolved)
		if err != nil {
			t.rollback(written, preWrite)
			return agent.Error(fmt.Sprintf("re-read before write %s: %v", resolved, err), ""), nil
		}
		preWrite[resolved] = data

		if err := writeFileWithRetry(ctx, resolved, finals[resolved].final, 0o644); err != nil {
			t.rollback(written, preWrite)
			return agent.Error(fmt.Sprintf("write %s: %v", resolved, err), ""), nil
		}
		written = append(written, resolved)
	}

	return agent.Success(fmt.Sprintf("applied %d edit(s) across %d file(s)", len(edits), len(order))), nil
}

// rollback restores the pre-write content of every file already written, best
// effort, logging anything that cannot be restored.
func (t *MultiEditFileTool) rollback(written []string, preWrite map[string][]byte) {
	for _, path := range written {
		if err := os.WriteFile(path, preWrite[path], 0o644); err != nil {
			t.logger.Warn("multi_edit rollback failed", "path", path, "error", err)
		}
	}
}
