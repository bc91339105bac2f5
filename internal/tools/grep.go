package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/orcacoder/orca/internal/agent"
)

const maxGrepMatches = 200

// GrepTool searches files under the workspace for a regular expression.
type GrepTool struct {
	resolver Resolver
	logger   *slog.Logger
}

func NewGrepTool(workspace string) *GrepTool {
	return &GrepTool{resolver: Resolver{Root: workspace}, logger: slog.Default()}
}

func (t *GrepTool) Name() string         { return "grep" }
func (t *GrepTool) Description() string  { return "Searches files under a directory for a regular expression." }
func (t *GrepTool) Risk() agent.RiskTier { return agent.RiskReadOnly }
func (t *GrepTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"path": {"type": "string", "description": "directory to search, defaults to workspace root"}
		},
		"required": ["pattern"]
	}`)
}
func (t *GrepTool) SetLogger(l *slog.Logger) { t.logger = l }

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return agent.Error("pattern is required", ""), nil
	}
	dir, _ := args["path"].(string)
	if dir == "" {
		dir = "."
	}
	resolved, err := t.resolver.Resolve(dir)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return agent.Error(fmt.Sprintf("invalid pattern: %v", err), ""), nil
	}

	var matches []string
	walkErr := filepath.WalkDir(resolved, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || len(matches) >= maxGrepMatches {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if re.MatchString(scanner.Text()) {
				rel, _ := filepath.Rel(resolved, p)
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, scanner.Text()))
				if len(matches) >= maxGrepMatches {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return agent.Cancelled(), nil
	}
	if len(matches) == 0 {
		return agent.Success("no matches"), nil
	}
	return agent.Success(strings.Join(matches, "\n")), nil
}
