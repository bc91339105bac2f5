package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/orcacoder/orca/internal/process"
)

func TestBashToolCompletesQuickCommand(t *testing.T) {
	tool := NewBashTool(process.New())
	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello", "timeout_seconds": 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError() {
		t.Fatalf("expected success, got %+v", res)
	}
	if !strings.Contains(res.Content, "hello") {
		t.Fatalf("expected output to contain hello, got %q", res.Content)
	}
}

func TestBashToolReturnsStillRunningOnTimeout(t *testing.T) {
	tool := NewBashTool(process.New())
	res, err := tool.Execute(context.Background(), map[string]any{"command": "sleep 2", "timeout_seconds": 0})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError() {
		t.Fatalf("expected success result even when still running, got %+v", res)
	}
	if !strings.Contains(res.Content, "still running") {
		t.Fatalf("expected a still-running message, got %q", res.Content)
	}
	if !strings.Contains(res.Content, "get_process_output") || !strings.Contains(res.Content, "stop_process") {
		t.Fatalf("expected pointers to follow-up tools, got %q", res.Content)
	}
}

func TestGetProcessOutputAfterBashTimeout(t *testing.T) {
	sup := process.New()
	bash := NewBashTool(sup)
	getOutput := NewGetProcessOutputTool(sup)
	stop := NewStopProcessTool(sup)

	res, err := bash.Execute(context.Background(), map[string]any{"command": "sleep 5", "timeout_seconds": 0})
	if err != nil {
		t.Fatal(err)
	}
	// Extract the process id the way a model would: it's quoted in the body.
	start := strings.Index(res.Content, `process ID: "`) + len(`process ID: "`)
	end := strings.Index(res.Content[start:], `"`)
	id := res.Content[start : start+end]

	out, err := getOutput.Execute(context.Background(), map[string]any{"process_id": id, "cursor": 0})
	if err != nil || out.IsError() {
		t.Fatalf("get_process_output failed: %+v err=%v", out, err)
	}

	stopRes, err := stop.Execute(context.Background(), map[string]any{"process_id": id})
	if err != nil || stopRes.IsError() {
		t.Fatalf("stop_process failed: %+v err=%v", stopRes, err)
	}
}
