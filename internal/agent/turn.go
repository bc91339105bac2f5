package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// TurnOptions configures one AgentTurnEngine.Run call.
type TurnOptions struct {
	Temperature     float64
	MaxTokens       int
	NativeTools     bool
	StreamIdleLimit time.Duration
	Mode            Mode
	SessionID       string
	OnText          func(string)
}

// TurnOutcome reports whether a turn concluded the loop or needs another
// iteration.
type TurnOutcome struct {
	Terminal      bool
	RetryRequired bool
	NudgeRequired bool
}

// AgentTurnEngine executes exactly one round-trip with the model: stream a
// completion, reconcile native and text-form tool calls, and run each call
// through the checkpoint/permission/hook pipeline in emission order
// (spec.md §4.9).
type AgentTurnEngine struct {
	Provider   Provider
	Registry   *ToolRegistry
	Gate       *PermissionGate
	Hooks      *HookRunner
	Checkpoint *CheckpointStore
	Parser     *ToolCallParser

	Logger *slog.Logger

	// maxNudgeRetries bounds the continuation-nudge retry loop for truncated
	// responses (spec.md §4.8: "retry up to twice").
	maxNudgeRetries int
}

// NewAgentTurnEngine wires the collaborators a turn needs.
func NewAgentTurnEngine(provider Provider, registry *ToolRegistry, gate *PermissionGate, hooks *HookRunner, checkpoint *CheckpointStore, logger *slog.Logger) *AgentTurnEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentTurnEngine{
		Provider:        provider,
		Registry:        registry,
		Gate:            gate,
		Hooks:           hooks,
		Checkpoint:      checkpoint,
		Parser:          NewToolCallParser(),
		Logger:          logger,
		maxNudgeRetries: 2,
	}
}

// Run executes one turn against conv, mutating it in place with the assistant
// message and any tool results produced.
func (e *AgentTurnEngine) Run(ctx context.Context, conv *Conversation, opts TurnOptions) (TurnOutcome, error) {
	native := opts.NativeTools
	attempt := 0

	for {
		resp, truncated, err := e.stream(ctx, conv, opts, native)
		if err != nil {
			return TurnOutcome{}, &LoopError{Phase: PhaseStream, Cause: err}
		}

		if truncated {
			attempt++
			if attempt > e.maxNudgeRetries {
				// Give up treating this as recoverable truncation; surface what
				// we have as a terminal (if any text) or force a nudge path.
				conv.AppendAssistant(resp.Text, resp.ToolCalls)
				return TurnOutcome{Terminal: len(resp.ToolCalls) == 0}, nil
			}
			conv.AppendUser(ContinuationNudge)
			continue
		}

		// Empty-response guard / native-to-text fallback: downgrade and retry
		// once for the remainder of this Run call.
		if native && len(resp.Text) == 0 && len(resp.ToolCalls) == 0 {
			native = false
			continue
		}

		parsed := e.Parser.Parse(resp.Text)
		if parsed.Truncated {
			attempt++
			if attempt > e.maxNudgeRetries {
				conv.AppendAssistant(resp.Text, resp.ToolCalls)
				return TurnOutcome{Terminal: len(resp.ToolCalls) == 0}, nil
			}
			conv.AppendUser(ContinuationNudge)
			continue
		}

		merged := Merge(resp.ToolCalls, parsed.Calls)
		merged = e.shapeCalls(merged)

		conv.AppendAssistant(parsed.CleanedText, merged)

		if len(merged) == 0 {
			if parsed.NeedsNudge {
				conv.AppendUser(NudgeMessage)
				return TurnOutcome{NudgeRequired: true}, nil
			}
			return TurnOutcome{Terminal: true}, nil
		}

		if err := e.executeCalls(ctx, conv, merged, opts, native); err != nil {
			return TurnOutcome{}, err
		}
		return TurnOutcome{Terminal: false}, nil
	}
}

// stream opens one streaming completion and accumulates its events, applying
// an idle watchdog that cancels the stream if no content arrives for
// opts.StreamIdleLimit.
func (e *AgentTurnEngine) stream(ctx context.Context, conv *Conversation, opts TurnOptions, native bool) (ChatResponse, bool, error) {
	req := ChatRequest{
		System:      conv.System,
		Messages:    conv.Messages,
		Tools:       e.Registry.Schemas(),
		NativeTools: native,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	idleLimit := opts.StreamIdleLimit
	if idleLimit <= 0 {
		idleLimit = 60 * time.Second
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchdog := time.NewTimer(idleLimit)
	defer watchdog.Stop()
	done := make(chan struct{})
	go func() {
		select {
		case <-watchdog.C:
			cancel()
		case <-done:
		}
	}()
	defer close(done)

	// argBuilders accumulates each native tool call's incremental JSON
	// arguments string by index, since providers deliver them in fragments.
	argBuilders := make(map[int]*nativeCallBuilder)

	resp, err := e.Provider.StreamChat(streamCtx, req, func(ev StreamEvent) {
		if !watchdog.Stop() {
			select {
			case <-watchdog.C:
			default:
			}
		}
		watchdog.Reset(idleLimit)

		if ev.TextDelta != "" && opts.OnText != nil {
			opts.OnText(ev.TextDelta)
		}
		if ev.HasToolCallUpdate {
			b, ok := argBuilders[ev.ToolCallIndex]
			if !ok {
				b = &nativeCallBuilder{}
				argBuilders[ev.ToolCallIndex] = b
			}
			if ev.ToolCallID != "" {
				b.callID = ev.ToolCallID
			}
			if ev.ToolCallName != "" {
				b.name = ev.ToolCallName
			}
			b.argsJSON += ev.ArgumentsDelta
		}
	})

	truncated := false
	if streamCtx.Err() != nil && ctx.Err() == nil {
		// The watchdog fired, not an external cancellation: treat as truncation.
		truncated = true
	}
	if err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, false, ctx.Err()
		}
		if !truncated {
			return ChatResponse{}, false, err
		}
	}

	// Resolve native tool calls from accumulated argument fragments when the
	// provider did not already populate resp.ToolCalls directly.
	if len(resp.ToolCalls) == 0 && len(argBuilders) > 0 {
		maxIdx := -1
		for idx := range argBuilders {
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		for idx := 0; idx <= maxIdx; idx++ {
			b, ok := argBuilders[idx]
			if !ok {
				continue
			}
			var args map[string]any
			if jsonErr := json.Unmarshal([]byte(b.argsJSON), &args); jsonErr != nil {
				truncated = true
				continue
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{CallID: b.callID, Name: b.name, Arguments: args, Native: true})
		}
	}

	return resp, truncated, nil
}

type nativeCallBuilder struct {
	callID   string
	name     string
	argsJSON string
}

// shapeCalls applies alias resolution and missing-required inference to each
// call's arguments, using the resolved tool's schema where available.
func (e *AgentTurnEngine) shapeCalls(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		tool := e.Registry.Resolve(c.Name)
		if tool == nil {
			out[i] = c
			continue
		}
		info := schemaInfoFor(tool.Schema())
		c.Arguments = Shape(c.Arguments, info)
		out[i] = c
	}
	return out
}

// schemaInfoFor extracts the key-set and required list from a JSON-schema
// "object" definition shaped like {"properties": {...}, "required": [...]}.
func schemaInfoFor(raw json.RawMessage) SchemaInfo {
	var parsed struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return SchemaInfo{Keys: map[string]bool{}}
	}
	keys := make(map[string]bool, len(parsed.Properties))
	for k := range parsed.Properties {
		keys[k] = true
	}
	return SchemaInfo{Keys: keys, Required: parsed.Required}
}

// executeCalls runs each resolved call through checkpoint, permission, hook,
// and invocation, in emission order, appending a result for every call. native
// is the encoding this turn resolved to (spec.md §3 invariant b): every
// AppendToolResult call in this turn must use it, not opts.NativeTools, since
// Run may have downgraded native partway through the turn.
func (e *AgentTurnEngine) executeCalls(ctx context.Context, conv *Conversation, calls []ToolCall, opts TurnOptions, native bool) error {
	for _, call := range calls {
		argsJSON := call.CanonicalArgs()

		tool := e.Registry.Resolve(call.Name)
		if tool == nil {
			conv.AppendToolResult(call.Name, call.CallID, Error("unknown tool: "+call.Name, "check the tool name against the available tools").Content, native)
			continue
		}

		if mutator, ok := tool.(FileMutator); ok {
			if path, has := mutator.MutationPath(call.Arguments); has && e.Checkpoint != nil {
				if err := e.Checkpoint.Snapshot(path, opts.SessionID); err != nil {
					e.Logger.Warn("checkpoint snapshot failed", "path", path, "error", err)
				}
			}
		}
		if mutator, ok := tool.(MultiFileMutator); ok && e.Checkpoint != nil {
			for _, path := range mutator.MutationPaths(call.Arguments) {
				if err := e.Checkpoint.Snapshot(path, opts.SessionID); err != nil {
					e.Logger.Warn("checkpoint snapshot failed", "path", path, "error", err)
				}
			}
		}

		if e.Gate != nil {
			switch e.Gate.Check(opts.Mode, call.Name, tool.Risk(), argsJSON) {
			case DecisionDenied:
				conv.AppendToolResult(call.Name, call.CallID, Denied("tool call denied by permission policy").Content, native)
				continue
			case DecisionPlanDeferred:
				conv.AppendToolResult(call.Name, call.CallID, PlanDeferred(call.Name).Content, native)
				continue
			}
		}

		if e.Hooks != nil {
			if ok, reason := e.Hooks.RunPre(ctx, call.Name, argsJSON); !ok {
				conv.AppendToolResult(call.Name, call.CallID, HookBlocked(reason).Content, native)
				continue
			}
		}

		result, execErr := e.invoke(ctx, tool, call, opts)
		if execErr != nil {
			result = Error(execErr.Error(), "")
		}

		if e.Hooks != nil {
			e.Hooks.RunPost(ctx, call.Name, argsJSON, result.Content, result.IsError())
		}

		conv.AppendToolResult(call.Name, call.CallID, result.Content, native)
	}
	return nil
}

func (e *AgentTurnEngine) invoke(ctx context.Context, tool Tool, call ToolCall, opts TurnOptions) (ToolResult, error) {
	if st, ok := tool.(StreamingTool); ok {
		return st.ExecuteStreaming(ctx, call.Arguments, func(chunk string) {
			if opts.OnText != nil {
				opts.OnText(chunk)
			}
		})
	}
	return tool.Execute(ctx, call.Arguments)
}
