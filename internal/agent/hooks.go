package agent

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// hookTimeout is the wall-clock cap on a single hook invocation (spec.md §4.3).
const hookTimeout = 30 * time.Second

// maxHookResultBytes truncates the result body passed to a post-hook.
const maxHookResultBytes = 10_000

// HookRunner looks up a shell command registered under a tool's name or the
// wildcard "*" and runs it around a tool call: a pre-hook that can block
// execution, and a post-hook whose exit code is logged but never propagated.
type HookRunner struct {
	// PreHooks and PostHooks map a tool name (or "*") to a shell command line.
	PreHooks  map[string]string
	PostHooks map[string]string

	Logger *slog.Logger
}

// NewHookRunner returns a runner with no hooks registered.
func NewHookRunner(logger *slog.Logger) *HookRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &HookRunner{
		PreHooks:  make(map[string]string),
		PostHooks: make(map[string]string),
		Logger:    logger,
	}
}

// RunPre runs the pre-hook for toolName (falling back to "*"), if any. A
// non-zero exit or a timeout blocks the tool; ok is false in that case.
func (h *HookRunner) RunPre(ctx context.Context, toolName, argsJSON string) (ok bool, blockReason string) {
	cmd, found := h.lookup(h.PreHooks, toolName)
	if !found {
		return true, ""
	}
	env := []string{
		"ORCA_TOOL_NAME=" + toolName,
		"ORCA_TOOL_ARGS=" + argsJSON,
	}
	out, exitCode, timedOut, err := h.run(ctx, cmd, env)
	if timedOut {
		h.Logger.Warn("pre-hook timed out", "tool", toolName, "command", cmd)
		return false, "pre-hook timed out"
	}
	if err != nil {
		h.Logger.Error("pre-hook failed to start", "tool", toolName, "command", cmd, "error", err)
		return false, "pre-hook failed to start: " + err.Error()
	}
	if exitCode != 0 {
		h.Logger.Info("pre-hook blocked tool call", "tool", toolName, "exit_code", exitCode)
		return false, strings.TrimSpace(out)
	}
	return true, ""
}

// RunPost runs the post-hook for toolName (falling back to "*"), if any. Its
// outcome is logged only; the turn engine proceeds regardless.
func (h *HookRunner) RunPost(ctx context.Context, toolName, argsJSON, resultBody string, isError bool) {
	cmd, found := h.lookup(h.PostHooks, toolName)
	if !found {
		return
	}
	if len(resultBody) > maxHookResultBytes {
		resultBody = resultBody[:maxHookResultBytes]
	}
	env := []string{
		"ORCA_TOOL_NAME=" + toolName,
		"ORCA_TOOL_ARGS=" + argsJSON,
		"ORCA_TOOL_RESULT=" + resultBody,
		"ORCA_TOOL_ERROR=" + strconv.FormatBool(isError),
	}
	_, exitCode, timedOut, err := h.run(ctx, cmd, env)
	switch {
	case timedOut:
		h.Logger.Warn("post-hook timed out", "tool", toolName, "command", cmd)
	case err != nil:
		h.Logger.Error("post-hook failed to start", "tool", toolName, "command", cmd, "error", err)
	case exitCode != 0:
		h.Logger.Info("post-hook exited non-zero", "tool", toolName, "exit_code", exitCode)
	}
}

func (h *HookRunner) lookup(table map[string]string, toolName string) (string, bool) {
	if cmd, ok := table[strings.ToLower(toolName)]; ok {
		return cmd, true
	}
	if cmd, ok := table["*"]; ok {
		return cmd, true
	}
	return "", false
}

// run executes a shell command line with the given extra environment
// variables, capped at hookTimeout.
func (h *HookRunner) run(ctx context.Context, command string, extraEnv []string) (output string, exitCode int, timedOut bool, err error) {
	runCtx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shellPath(), shellArg(), command)
	cmd.Env = append(os.Environ(), extraEnv...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return buf.String(), -1, true, nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return buf.String(), exitErr.ExitCode(), false, nil
		}
		return buf.String(), -1, false, runErr
	}
	return buf.String(), 0, false, nil
}
