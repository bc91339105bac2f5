// Package agent implements the streaming turn loop that couples a chat-completions
// client to a tool registry: permission checks, hook execution, native/text tool-call
// reconciliation, conversation bookkeeping, compaction, and sub-agent fan-out.
package agent

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message in a Conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentKind discriminates the variants of Content.
type ContentKind string

const (
	ContentText           ContentKind = "text"
	ContentFunctionCall   ContentKind = "function_call"
	ContentFunctionResult ContentKind = "function_result"
)

// Content is one item inside a message's ordered content list. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Content struct {
	Kind ContentKind

	// Text holds the payload for ContentText.
	Text string

	// CallID, ToolName, Arguments hold the payload for ContentFunctionCall.
	CallID    string
	ToolName  string
	Arguments map[string]any

	// ResultCallID, Result hold the payload for ContentFunctionResult.
	ResultCallID string
	Result       string
}

// TextContent builds a text Content item.
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// CallContent builds a function-call Content item.
func CallContent(callID, toolName string, args map[string]any) Content {
	return Content{Kind: ContentFunctionCall, CallID: callID, ToolName: toolName, Arguments: args}
}

// ResultContent builds a function-result Content item.
func ResultContent(callID, result string) Content {
	return Content{Kind: ContentFunctionResult, ResultCallID: callID, Result: result}
}

// Message is one turn in the conversation log: a role plus an ordered list of
// content items. Most messages carry a single text item; assistant messages that
// invoke tools carry one function-call item per call.
type Message struct {
	Role    Role
	Content []Content
	// CreatedAt is informational only; ordering is determined by slice position.
	CreatedAt time.Time
}

// Text concatenates every ContentText item in the message.
func (m Message) Text() string {
	out := ""
	for _, c := range m.Content {
		if c.Kind == ContentText {
			out += c.Text
		}
	}
	return out
}

// ToolCalls returns every function-call content item in the message.
func (m Message) ToolCalls() []Content {
	var calls []Content
	for _, c := range m.Content {
		if c.Kind == ContentFunctionCall {
			calls = append(calls, c)
		}
	}
	return calls
}

// RiskTier classifies the blast radius of a tool, driving PermissionGate decisions.
type RiskTier string

const (
	RiskReadOnly  RiskTier = "read-only"
	RiskModerate  RiskTier = "moderate"
	RiskDangerous RiskTier = "dangerous"
)

// ToolResultKind distinguishes the tool-result envelope variants of spec.md §7.
type ToolResultKind string

const (
	ResultSuccess        ToolResultKind = "success"
	ResultError          ToolResultKind = "error"
	ResultDenied         ToolResultKind = "denied"
	ResultPlanDeferred   ToolResultKind = "plan_deferred"
	ResultHookBlocked    ToolResultKind = "hook_blocked"
	ResultCancelled      ToolResultKind = "cancelled"
)

// ToolResult is the uniform success/error/denied result envelope every tool
// invocation produces, whether it ran, was denied, or was never attempted.
type ToolResult struct {
	Kind ToolResultKind
	// Content is the human/model-facing body: the success payload, the error
	// message plus recovery hint, or the reason for denial.
	Content string
	// RecoveryHint is an optional nudge the model can act on ("use read_file to
	// see current content"). Only meaningful when Kind is ResultError.
	RecoveryHint string
}

// IsError reports whether the result represents anything other than success.
func (r ToolResult) IsError() bool {
	return r.Kind != ResultSuccess
}

// Success builds a successful ToolResult.
func Success(content string) ToolResult {
	return ToolResult{Kind: ResultSuccess, Content: content}
}

// Error builds an error ToolResult with an optional recovery hint, which is
// appended to Content on its own line.
func Error(content, hint string) ToolResult {
	if hint != "" {
		content += "\n" + hint
	}
	return ToolResult{Kind: ResultError, Content: content, RecoveryHint: hint}
}

// Denied builds a ToolResult for a PermissionGate rejection.
func Denied(reason string) ToolResult {
	return ToolResult{Kind: ResultDenied, Content: reason}
}

// PlanDeferred builds a ToolResult recording a plan-mode intent without execution.
func PlanDeferred(toolName string) ToolResult {
	return ToolResult{Kind: ResultPlanDeferred, Content: "plan: would call " + toolName}
}

// HookBlocked builds a ToolResult for a pre-hook rejection.
func HookBlocked(reason string) ToolResult {
	return ToolResult{Kind: ResultHookBlocked, Content: "blocked by hook: " + reason}
}

// Cancelled builds a synthetic ToolResult used to fill a dangling function-call
// when a turn is cancelled before the tool ran.
func Cancelled() ToolResult {
	return ToolResult{Kind: ResultCancelled, Content: "cancelled by user"}
}

// ToolCall is a parsed invocation awaiting dispatch: a name plus canonical
// (post alias-resolution) JSON arguments.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments map[string]any
	// Native is true when this call arrived via the provider's structured
	// function-calling channel rather than being parsed out of response text.
	Native bool
}

// CanonicalArgs returns the deterministic JSON encoding of the call's arguments,
// used for glob matching and dedup.
func (c ToolCall) CanonicalArgs() string {
	if c.Arguments == nil {
		return "{}"
	}
	b, err := json.Marshal(c.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}
