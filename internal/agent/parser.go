package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// thinkRe strips <think>...</think> spans before any tool-call extraction runs,
// so a model's visible reasoning never accidentally parses as a call.
var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// tagCallRe matches one or more <tool_call>{...}</tool_call> blocks.
var tagCallRe = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// hasUnclosedTag detects a <tool_call> opening tag with no matching close,
// signalling the response was truncated mid-generation.
func hasUnclosedTag(text string) bool {
	open := strings.LastIndex(text, "<tool_call>")
	return open >= 0 && !strings.Contains(text[open:], "</tool_call>")
}

// fencedJSONRe matches a fenced code block whose body looks like a JSON object.
var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n(\\{.*?\\})\\s*\n```")

// bareCallRe finds a JSON object literal anywhere in text; candidates are
// validated by unmarshalling and checking for name/arguments keys.
var bareCallRe = regexp.MustCompile(`(?s)\{[^{}]*"name"\s*:\s*"[^"]+"\s*,[^{}]*"arguments"\s*:\s*\{.*?\}\s*\}`)

// rawCall is the wire shape of a tag/bare/fenced tool call.
type rawCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseResult is the outcome of one ToolCallParser.Parse call.
type ParseResult struct {
	Calls       []ToolCall
	Truncated   bool
	NeedsNudge  bool
	CleanedText string
}

// ToolCallParser extracts zero or more tool calls from free-form assistant text,
// recognising the tag, bare-JSON, and fenced-JSON forms of spec.md §6, in that
// precedence order. <think>...</think> spans are stripped first.
type ToolCallParser struct{}

// NewToolCallParser returns a ready-to-use parser. The parser is stateless.
func NewToolCallParser() *ToolCallParser { return &ToolCallParser{} }

// Parse extracts tool calls from raw assistant text.
func (p *ToolCallParser) Parse(text string) ParseResult {
	stripped := thinkRe.ReplaceAllString(text, "")

	if hasUnclosedTag(stripped) {
		return ParseResult{Truncated: true, CleanedText: stripped}
	}

	if calls, ok := p.parseTagForm(stripped); ok {
		return ParseResult{Calls: calls, CleanedText: stripped}
	}

	if calls, ok := p.parseBareForm(stripped); ok {
		return ParseResult{Calls: calls, CleanedText: stripped}
	}

	// Fenced JSON is only considered when no tag form appears anywhere,
	// per spec.md §6's precedence rule.
	if calls, ok := p.parseFencedForm(stripped); ok {
		return ParseResult{Calls: calls, CleanedText: stripped}
	}

	if p.looksLikeTruncatedObject(stripped) {
		return ParseResult{Truncated: true, CleanedText: stripped}
	}

	needsNudge := p.describesToolUseWithoutCall(stripped)
	return ParseResult{NeedsNudge: needsNudge, CleanedText: stripped}
}

func (p *ToolCallParser) parseTagForm(text string) ([]ToolCall, bool) {
	matches := tagCallRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, false
	}
	var calls []ToolCall
	for _, m := range matches {
		if call, ok := decodeRawCall(m[1]); ok {
			calls = append(calls, call)
		}
	}
	return calls, len(calls) > 0
}

func (p *ToolCallParser) parseBareForm(text string) ([]ToolCall, bool) {
	matches := bareCallRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil, false
	}
	var calls []ToolCall
	for _, m := range matches {
		if call, ok := decodeRawCall(m); ok {
			calls = append(calls, call)
		}
	}
	return calls, len(calls) > 0
}

func (p *ToolCallParser) parseFencedForm(text string) ([]ToolCall, bool) {
	matches := fencedJSONRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, false
	}
	var calls []ToolCall
	for _, m := range matches {
		if call, ok := decodeRawCall(m[1]); ok {
			calls = append(calls, call)
		}
	}
	return calls, len(calls) > 0
}

func decodeRawCall(jsonText string) (ToolCall, bool) {
	var raw rawCall
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return ToolCall{}, false
	}
	if raw.Name == "" {
		return ToolCall{}, false
	}
	return ToolCall{Name: raw.Name, Arguments: raw.Arguments}, true
}

// looksLikeTruncatedObject detects a trailing JSON object missing its closing
// brace: counting from the brace that opens the object holding the last
// "name" key, more braces are opened than closed.
func (p *ToolCallParser) looksLikeTruncatedObject(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n\r")
	if trimmed == "" {
		return false
	}
	nameIdx := strings.LastIndex(trimmed, `"name"`)
	if nameIdx < 0 {
		return false
	}
	lastOpen := strings.LastIndex(trimmed[:nameIdx], "{")
	if lastOpen < 0 {
		return false
	}
	tail := trimmed[lastOpen:]
	return strings.Count(tail, "{") > strings.Count(tail, "}")
}

// describesToolUseWithoutCall is a light heuristic: the response contains a
// fenced code block or one of the phrases "you can use", "i would call" or
// "i would use" (case-insensitive) but yields no parseable call, so a nudge is
// warranted.
func (p *ToolCallParser) describesToolUseWithoutCall(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(text, "```") {
		return true
	}
	return strings.Contains(lower, "you can use") || strings.Contains(lower, "i would call") || strings.Contains(lower, "i would use")
}

// NudgeMessage is the synthetic user message sent when the model describes tool
// usage in prose instead of emitting a parseable call.
const NudgeMessage = `No tool call was recognised in your previous response. If you intend to use a tool, emit it using the tag form, for example:

<tool_call>{"name": "read_file", "arguments": {"path": "example.txt"}}</tool_call>

Re-emit your intended action using this exact form.`

// ContinuationNudge is sent when a response appears to have been truncated
// mid tool-call.
const ContinuationNudge = `Your previous response appears to have been cut off mid tool call. Please continue and complete the <tool_call>...</tool_call> block.`

// aliasMap rewrites known synonym keys to their canonical schema name, applied
// only when the canonical key exists in the schema and is not already present
// (spec.md §4.8).
var aliasMap = map[string]string{
	"file_path":     "path",
	"filepath":      "path",
	"file":          "path",
	"dir":           "path",
	"folder":        "path",
	"cmd":           "command",
	"find":          "old_string",
	"search_string": "old_string",
}

// SchemaInfo is the minimal view of a tool's JSON schema the shaping functions
// below need: which keys exist, and which are required. It decouples this file
// from any particular JSON-schema representation.
type SchemaInfo struct {
	Keys     map[string]bool
	Required []string
}

// ResolveAliases rewrites known synonym keys in args to their canonical name,
// per the rule above. It never mutates args in place; it returns a new map.
func ResolveAliases(args map[string]any, schema SchemaInfo) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for alias, canonical := range aliasMap {
		raw, hasAlias := out[alias]
		if !hasAlias {
			continue
		}
		if !schema.Keys[canonical] {
			continue // canonical key not in schema: no-op
		}
		if _, hasCanonical := out[canonical]; hasCanonical {
			continue // both present already: no-op, ambiguous
		}
		out[canonical] = raw
		delete(out, alias)
	}
	return out
}

// InferMissingRequired remaps a single unrecognised string argument onto the
// single missing required parameter, but only when both sets have exactly one
// element (spec.md §4.8, §8 "Missing-required inference"). It returns args
// unchanged (a copy) when the condition does not hold.
func InferMissingRequired(args map[string]any, schema SchemaInfo) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	var missing []string
	for _, req := range schema.Required {
		if _, ok := out[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) != 1 {
		return out
	}

	var unrecognised []string
	for k, v := range out {
		if schema.Keys[k] {
			continue
		}
		if _, isString := v.(string); isString {
			unrecognised = append(unrecognised, k)
		}
	}
	if len(unrecognised) != 1 {
		return out
	}

	out[missing[0]] = out[unrecognised[0]]
	delete(out, unrecognised[0])
	return out
}

// Shape applies alias resolution followed by missing-required inference, the
// two JSON shaping steps every extracted call passes through (spec.md §4.8).
func Shape(args map[string]any, schema SchemaInfo) map[string]any {
	return InferMissingRequired(ResolveAliases(args, schema), schema)
}

// Merge combines native function calls with text-parsed calls, deduplicating by
// (name, canonical-JSON arguments) and preferring the native call when both
// channels produced the same call in the same turn (spec.md §9 open question a).
func Merge(native []ToolCall, parsed []ToolCall) []ToolCall {
	seen := make(map[string]bool, len(native))
	out := make([]ToolCall, 0, len(native)+len(parsed))
	for _, c := range native {
		c.Native = true
		out = append(out, c)
		seen[c.Name+"|"+c.CanonicalArgs()] = true
	}
	for _, c := range parsed {
		key := c.Name + "|" + c.CanonicalArgs()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
