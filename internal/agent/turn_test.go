package agent

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeProvider struct {
	responses []ChatResponse
	calls     int
}

func (f *fakeProvider) StreamChat(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) (ChatResponse, error) {
	resp := f.responses[f.calls]
	f.calls++
	if resp.Text != "" {
		onEvent(StreamEvent{TextDelta: resp.Text})
	}
	return resp, nil
}

type echoTool struct {
	executed []map[string]any
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echoes its input" }
func (t *echoTool) Risk() RiskTier      { return RiskReadOnly }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (t *echoTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	t.executed = append(t.executed, args)
	return Success("echoed"), nil
}

func newTestEngine(provider Provider, registry *ToolRegistry) *AgentTurnEngine {
	gate := NewPermissionGate(nil)
	gate.AutoApproveAll = true
	return NewAgentTurnEngine(provider, registry, gate, NewHookRunner(nil), nil, nil)
}

func TestAgentTurnEngineTerminalTextOnly(t *testing.T) {
	registry := NewToolRegistry()
	provider := &fakeProvider{responses: []ChatResponse{{Text: "the answer is 42"}}}
	engine := newTestEngine(provider, registry)

	conv := NewConversation("you are a test agent")
	conv.AppendUser("what is the answer?")

	outcome, err := engine.Run(context.Background(), conv, TurnOptions{Mode: ModeNormal})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Terminal {
		t.Fatal("expected terminal outcome for text-only response")
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Text() != "the answer is 42" {
		t.Fatalf("unexpected assistant text: %q", last.Text())
	}
}

func TestAgentTurnEngineNativeToolCall(t *testing.T) {
	tool := &echoTool{}
	registry := NewToolRegistry()
	registry.Register(tool, nil)

	provider := &fakeProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{CallID: "call_1", Name: "echo", Arguments: map[string]any{"text": "hi"}, Native: true}}},
	}}
	engine := newTestEngine(provider, registry)

	conv := NewConversation("system")
	conv.AppendUser("say hi")

	outcome, err := engine.Run(context.Background(), conv, TurnOptions{Mode: ModeNormal})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Terminal {
		t.Fatal("expected non-terminal outcome after executing a tool call")
	}
	if len(tool.executed) != 1 {
		t.Fatalf("expected tool to be invoked once, got %d", len(tool.executed))
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != RoleTool && last.Role != RoleUser {
		t.Fatalf("expected a tool result message, got role %s", last.Role)
	}
}

func TestAgentTurnEngineTextFormToolCall(t *testing.T) {
	tool := &echoTool{}
	registry := NewToolRegistry()
	registry.Register(tool, nil)

	provider := &fakeProvider{responses: []ChatResponse{
		{Text: `<tool_call>{"name": "echo", "arguments": {"text": "from text"}}</tool_call>`},
	}}
	engine := newTestEngine(provider, registry)

	conv := NewConversation("system")
	conv.AppendUser("say hi via text form")

	outcome, err := engine.Run(context.Background(), conv, TurnOptions{Mode: ModeNormal})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Terminal {
		t.Fatal("expected non-terminal outcome")
	}
	if len(tool.executed) != 1 || tool.executed[0]["text"] != "from text" {
		t.Fatalf("unexpected execution record: %+v", tool.executed)
	}
}

func TestAgentTurnEngineUnknownToolProducesError(t *testing.T) {
	registry := NewToolRegistry()
	provider := &fakeProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{CallID: "call_1", Name: "does_not_exist", Arguments: map[string]any{}, Native: true}}},
	}}
	engine := newTestEngine(provider, registry)

	conv := NewConversation("system")
	conv.AppendUser("call a missing tool")

	if _, err := engine.Run(context.Background(), conv, TurnOptions{Mode: ModeNormal, NativeTools: true}); err != nil {
		t.Fatal(err)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != RoleTool || len(last.Content) == 0 || last.Content[0].Result == "" {
		t.Fatalf("expected a native tool-result message for the unknown tool, got %+v", last)
	}
}

// TestAgentTurnEngineTextFormFallbackUsesSyntheticEncoding forces the
// empty-response native-to-text fallback in Run (native starts true but the
// provider's first response has neither text nor tool calls, so Run downgrades
// to native=false before retrying). Every AppendToolResult call for the rest of
// the turn must then use the synthetic user-text encoding, never RoleTool,
// per spec.md §3 invariant (b).
func TestAgentTurnEngineTextFormFallbackUsesSyntheticEncoding(t *testing.T) {
	tool := &echoTool{}
	registry := NewToolRegistry()
	registry.Register(tool, nil)

	provider := &fakeProvider{responses: []ChatResponse{
		{},
		{Text: `<tool_call>{"name": "echo", "arguments": {"text": "from fallback"}}</tool_call>`},
	}}
	engine := newTestEngine(provider, registry)

	conv := NewConversation("system")
	conv.AppendUser("say hi")

	outcome, err := engine.Run(context.Background(), conv, TurnOptions{Mode: ModeNormal, NativeTools: true})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Terminal {
		t.Fatal("expected non-terminal outcome after executing a tool call")
	}
	if len(tool.executed) != 1 || tool.executed[0]["text"] != "from fallback" {
		t.Fatalf("unexpected execution record: %+v", tool.executed)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != RoleUser {
		t.Fatalf("expected synthetic user-text tool result after native fallback, got role %s", last.Role)
	}
	if len(last.Content) == 0 || last.Content[0].Kind != ContentText {
		t.Fatalf("expected synthetic text content, got %+v", last.Content)
	}
	for _, m := range conv.Messages {
		if m.Role == RoleTool {
			t.Fatalf("expected no native tool-role messages once native fallback occurred, found one: %+v", m)
		}
	}
}

func TestAgentTurnEnginePermissionDenied(t *testing.T) {
	tool := &echoTool{}
	registry := NewToolRegistry()
	registry.Register(tool, nil)

	gate := NewPermissionGate(nil)
	gate.DenyGlobs = []string{"echo"}

	provider := &fakeProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{CallID: "call_1", Name: "echo", Arguments: map[string]any{"text": "hi"}, Native: true}}},
	}}
	engine := NewAgentTurnEngine(provider, registry, gate, NewHookRunner(nil), nil, nil)

	conv := NewConversation("system")
	conv.AppendUser("say hi")

	if _, err := engine.Run(context.Background(), conv, TurnOptions{Mode: ModeNormal}); err != nil {
		t.Fatal(err)
	}
	if len(tool.executed) != 0 {
		t.Fatal("expected the denied tool to never execute")
	}
}
