// Package tools implements the concrete Tool/StreamingTool/FileMutator
// implementations wired into the agent's ToolRegistry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orcacoder/orca/internal/agent"
	"github.com/orcacoder/orca/internal/process"
)

const defaultBashTimeoutSeconds = 30

var bashSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {"type": "string", "description": "shell command to run"},
		"cwd": {"type": "string", "description": "working directory"},
		"timeout_seconds": {"type": "integer", "description": "seconds to wait before returning a still-running result"}
	},
	"required": ["command"]
}`)

// BashTool runs a shell command through a process.Supervisor, streaming
// output to the caller and handing control back to the model without
// blocking when a command outlives timeout_seconds (spec.md §4.5).
type BashTool struct {
	supervisor *process.Supervisor
	logger     *slog.Logger
}

// NewBashTool wires a bash tool onto an existing supervisor so background
// processes outlive any single tool call.
func NewBashTool(supervisor *process.Supervisor) *BashTool {
	return &BashTool{supervisor: supervisor, logger: slog.Default()}
}

func (t *BashTool) Name() string             { return "bash" }
func (t *BashTool) Description() string      { return "Runs a shell command, optionally in the background if it outlives its timeout." }
func (t *BashTool) Risk() agent.RiskTier     { return agent.RiskDangerous }
func (t *BashTool) Schema() json.RawMessage  { return bashSchema }
func (t *BashTool) SetLogger(l *slog.Logger) { t.logger = l }

// Execute runs the command without a streaming callback.
func (t *BashTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	return t.ExecuteStreaming(ctx, args, nil)
}

// ExecuteStreaming implements agent.StreamingTool: it polls the supervisor
// every ~100ms, forwarding new lines to onChunk, until the command finishes or
// timeout_seconds elapses.
func (t *BashTool) ExecuteStreaming(ctx context.Context, args map[string]any, onChunk func(string)) (agent.ToolResult, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return agent.Error("command is required", ""), nil
	}
	cwd, _ := args["cwd"].(string)
	timeoutSeconds := defaultBashTimeoutSeconds
	if v, ok := args["timeout_seconds"]; ok {
		if f, ok := toFloat(v); ok && f >= 0 {
			timeoutSeconds = int(f)
		}
	}

	id, err := t.supervisor.Start(ctx, command, cwd)
	if err != nil {
		return agent.Error(fmt.Sprintf("failed to start command: %v", err), ""), nil
	}

	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	cursor := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.supervisor.Stop(id)
			return agent.Cancelled(), nil
		case <-ticker.C:
			lines, newCursor, _ := t.supervisor.NewLines(id, cursor)
			cursor = newCursor
			if len(lines) > 0 && onChunk != nil {
				onChunk(strings.Join(lines, "\n") + "\n")
			}
			if t.supervisor.WaitForExit(id, 0) {
				return t.finalResult(id, cwd), nil
			}
			if time.Now().After(deadline) {
				return t.stillRunningResult(id, cwd), nil
			}
		}
	}
}

func (t *BashTool) finalResult(id, cwd string) agent.ToolResult {
	lines, _, _ := t.supervisor.NewLines(id, 0)
	var exitCode int
	for _, r := range t.supervisor.List() {
		if r.ID == id {
			exitCode = r.ExitCode
		}
	}
	body := fmt.Sprintf("Exit code: %d\n%s", exitCode, strings.Join(lines, "\n"))
	if exitCode != 0 {
		return agent.Error(body, "inspect the output above for the failure cause")
	}
	return agent.Success(body)
}

func (t *BashTool) stillRunningResult(id, cwd string) agent.ToolResult {
	body := fmt.Sprintf(
		"Command is still running in the background (process ID: %q, cwd: %q). "+
			"Use get_process_output to read more output, or stop_process to terminate it.",
		id, cwd,
	)
	return agent.Success(body)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
