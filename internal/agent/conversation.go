package agent

import (
	"fmt"
)

// DefaultCharsPerToken is the character-to-token ratio used by the cheap token
// estimator for natural-language text (spec.md §3).
const DefaultCharsPerToken = 3.5

// structuredCallRatioFactor makes structured-call payloads cost more tokens per
// character than prose, per spec.md §3 ("75% of that ratio").
const structuredCallRatioFactor = 0.75

// Conversation is the ordered message log the AgentTurnEngine reads from and
// appends to. A conversation carries at most one encoding for tool results: either
// native tool-role messages, or materialised synthetic user-role text, never both
// in the same session (spec.md §3 invariant b).
type Conversation struct {
	System        string
	Messages      []Message
	CharsPerToken float64
	// nativeToolResults is fixed for the lifetime of a conversation: set from the
	// native flag of the first AppendToolResult call, and used by every later
	// append so all results share one encoding.
	nativeToolResults *bool
}

// NewConversation creates an empty conversation with an optional system prompt.
func NewConversation(system string) *Conversation {
	return &Conversation{System: system, CharsPerToken: DefaultCharsPerToken}
}

func (c *Conversation) ratio() float64 {
	if c.CharsPerToken <= 0 {
		return DefaultCharsPerToken
	}
	return c.CharsPerToken
}

// AppendUser appends a plain user-text message.
func (c *Conversation) AppendUser(text string) {
	c.Messages = append(c.Messages, Message{Role: RoleUser, Content: []Content{TextContent(text)}})
}

// AppendAssistant appends an assistant message carrying text and/or tool calls.
func (c *Conversation) AppendAssistant(text string, calls []ToolCall) {
	items := make([]Content, 0, 1+len(calls))
	if text != "" {
		items = append(items, TextContent(text))
	}
	for _, call := range calls {
		items = append(items, CallContent(call.CallID, call.Name, call.Arguments))
	}
	c.Messages = append(c.Messages, Message{Role: RoleAssistant, Content: items})
}

// AppendToolResult appends one function-result, materialising it as a native
// tool-role message or as synthetic user text depending on which encoding this
// conversation has committed to (native is sticky once chosen).
func (c *Conversation) AppendToolResult(toolName, callID, result string, native bool) {
	if c.nativeToolResults == nil {
		v := native
		c.nativeToolResults = &v
	}
	if *c.nativeToolResults {
		c.Messages = append(c.Messages, Message{Role: RoleTool, Content: []Content{ResultContent(callID, result)}})
		return
	}
	synthetic := fmt.Sprintf("[Tool result for %s]: %s", toolName, result)
	c.AppendUser(synthetic)
}

// EstimateTokens returns the character-based proxy of spec.md §3: natural-language
// characters divided by CharsPerToken, with structured-call payloads (function
// calls and their results) counted at 75% of that ratio since they pack more
// tokens per character.
func (c *Conversation) EstimateTokens() float64 {
	ratio := c.ratio()
	structuredRatio := ratio * structuredCallRatioFactor
	var total float64
	if c.System != "" {
		total += float64(len(c.System)) / ratio
	}
	for _, m := range c.Messages {
		for _, item := range m.Content {
			switch item.Kind {
			case ContentText:
				total += float64(len(item.Text)) / ratio
			case ContentFunctionCall:
				total += float64(len(item.ToolName)+len(item.CallID)+argsLen(item.Arguments)) / structuredRatio
			case ContentFunctionResult:
				total += float64(len(item.Result)) / structuredRatio
			}
		}
	}
	return total
}

// argsLen is a rough byte-count proxy for a call's arguments, avoiding a JSON
// round-trip on every token estimate.
func argsLen(args map[string]any) int {
	n := 0
	for k, v := range args {
		n += len(k) + len(fmt.Sprint(v))
	}
	return n
}

// TruncateToFit drops messages from the head, keeping at least two, until the
// token estimate fits within max.
func (c *Conversation) TruncateToFit(max float64) {
	for len(c.Messages) > 2 && c.EstimateTokens() > max {
		c.Messages = c.Messages[1:]
	}
}

// CompactWithSummary finds the index of the n-th-from-last user message, removes
// everything before it, and inserts a single synthetic user message of the form
// "[Conversation summary]\n<text>" in its place. Returns the number of messages
// removed.
func (c *Conversation) CompactWithSummary(text string, preserveLastN int) int {
	idx := c.nthFromLastUserIndex(preserveLastN)
	if idx <= 0 {
		return 0
	}
	removed := idx
	summary := Message{Role: RoleUser, Content: []Content{TextContent("[Conversation summary]\n" + text)}}
	rest := make([]Message, 0, len(c.Messages)-idx+1)
	rest = append(rest, summary)
	rest = append(rest, c.Messages[idx:]...)
	c.Messages = rest
	return removed
}

// nthFromLastUserIndex returns the message index of the n-th user message
// counting from the end (n=1 is the last user message), or -1 if there are
// fewer than n user messages.
func (c *Conversation) nthFromLastUserIndex(n int) int {
	if n <= 0 {
		return -1
	}
	count := 0
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			count++
			if count == n {
				return i
			}
		}
	}
	return -1
}

// RemoveLastTurns pops k turns from the tail, where a turn is one trailing
// non-user run of messages plus its preceding user message. Returns the number
// of messages actually removed.
func (c *Conversation) RemoveLastTurns(k int) int {
	removed := 0
	for t := 0; t < k; t++ {
		n := len(c.Messages)
		if n == 0 {
			break
		}
		end := n
		// Walk back over the trailing non-user run.
		i := n - 1
		for i >= 0 && c.Messages[i].Role != RoleUser {
			i--
		}
		if i < 0 {
			// No user message anchors this run; drop everything remaining.
			removed += end
			c.Messages = nil
			break
		}
		// i is the preceding user message; remove [i, end).
		removed += end - i
		c.Messages = c.Messages[:i]
	}
	return removed
}

// DanglingCalls returns every function-call content item in the conversation
// whose call-id has no matching function-result, in emission order.
func (c *Conversation) DanglingCalls() []Content {
	resultIDs := make(map[string]bool)
	for _, m := range c.Messages {
		for _, item := range m.Content {
			if item.Kind == ContentFunctionResult {
				resultIDs[item.ResultCallID] = true
			}
		}
	}
	// Synthetic user-role tool results (non-native encoding) cannot be matched
	// back to a call-id, so dangling-call detection is only meaningful for
	// native-encoded conversations; callers should not rely on it otherwise.
	var dangling []Content
	for _, m := range c.Messages {
		for _, item := range m.Content {
			if item.Kind == ContentFunctionCall && !resultIDs[item.CallID] {
				dangling = append(dangling, item)
			}
		}
	}
	return dangling
}

// FillDanglingCalls appends a synthetic cancelled-by-user result for every
// dangling function-call, restoring the invariant that every call eventually
// pairs with a result (spec.md §4.10, §8).
func (c *Conversation) FillDanglingCalls() {
	for _, call := range c.DanglingCalls() {
		c.AppendToolResult(call.ToolName, call.CallID, Cancelled().Content, true)
	}
}
