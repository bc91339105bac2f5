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

var getProcessOutputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"process_id": {"type": "string"},
		"cursor": {"type": "integer", "description": "resume point from a previous call; 0 for the start"}
	},
	"required": ["process_id"]
}`)

// GetProcessOutputTool reads incremental output from a background process
// started by BashTool (spec.md §4.5 get_process_output).
type GetProcessOutputTool struct {
	supervisor *process.Supervisor
	logger     *slog.Logger
}

func NewGetProcessOutputTool(supervisor *process.Supervisor) *GetProcessOutputTool {
	return &GetProcessOutputTool{supervisor: supervisor, logger: slog.Default()}
}

func (t *GetProcessOutputTool) Name() string             { return "get_process_output" }
func (t *GetProcessOutputTool) Description() string      { return "Reads new output lines from a background process since the given cursor." }
func (t *GetProcessOutputTool) Risk() agent.RiskTier      { return agent.RiskReadOnly }
func (t *GetProcessOutputTool) Schema() json.RawMessage   { return getProcessOutputSchema }
func (t *GetProcessOutputTool) SetLogger(l *slog.Logger)  { t.logger = l }

func (t *GetProcessOutputTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	id, _ := args["process_id"].(string)
	if id == "" {
		return agent.Error("process_id is required", ""), nil
	}
	cursor := 0
	if v, ok := args["cursor"]; ok {
		if f, ok := toFloat(v); ok {
			cursor = int(f)
		}
	}

	lines, newCursor, found := t.supervisor.NewLines(id, cursor)
	if !found {
		return agent.Error(fmt.Sprintf("no such process %q", id), "call bash first to start a background command"), nil
	}
	exited := t.supervisor.WaitForExit(id, 0)
	body := fmt.Sprintf("cursor: %d\nexited: %v\n%s", newCursor, exited, strings.Join(lines, "\n"))
	return agent.Success(body), nil
}

var stopProcessSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"process_id": {"type": "string"}},
	"required": ["process_id"]
}`)

// StopProcessTool kills a background process tree (spec.md §4.5 stop_process).
type StopProcessTool struct {
	supervisor *process.Supervisor
	logger     *slog.Logger
}

func NewStopProcessTool(supervisor *process.Supervisor) *StopProcessTool {
	return &StopProcessTool{supervisor: supervisor, logger: slog.Default()}
}

func (t *StopProcessTool) Name() string            { return "stop_process" }
func (t *StopProcessTool) Description() string     { return "Kills a background process started by bash." }
func (t *StopProcessTool) Risk() agent.RiskTier    { return agent.RiskModerate }
func (t *StopProcessTool) Schema() json.RawMessage { return stopProcessSchema }
func (t *StopProcessTool) SetLogger(l *slog.Logger) { t.logger = l }

func (t *StopProcessTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	id, _ := args["process_id"].(string)
	if id == "" {
		return agent.Error("process_id is required", ""), nil
	}
	t.supervisor.Stop(id)
	t.supervisor.WaitForExit(id, 5*time.Second)
	return agent.Success(fmt.Sprintf("stopped process %q", id)), nil
}
