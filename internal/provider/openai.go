// Package provider implements chat-completions clients against the
// agent.Provider interface.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/orcacoder/orca/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider streams chat completions from an OpenAI-compatible endpoint
// (a locally hosted model server or the real OpenAI API), surfacing both text
// deltas and incremental native tool-call arguments through agent.StreamEvent.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider builds a provider against baseURL (empty means the real
// OpenAI API) using apiKey and model.
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// StreamChat implements agent.Provider.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req agent.ChatRequest, onEvent func(agent.StreamEvent)) (agent.ChatResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    p.convertMessages(req.System, req.Messages),
		Stream:      true,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.NativeTools && len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	stream, err := p.openStreamWithRetry(ctx, chatReq)
	if err != nil {
		return agent.ChatResponse{}, err
	}
	defer stream.Close()

	return p.drain(ctx, stream, onEvent)
}

func (p *OpenAIProvider) openStreamWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, fmt.Errorf("provider: non-retryable error: %w", err)
		}
	}
	return nil, fmt.Errorf("provider: max retries exceeded: %w", lastErr)
}

func (p *OpenAIProvider) drain(ctx context.Context, stream *openai.ChatCompletionStream, onEvent func(agent.StreamEvent)) (agent.ChatResponse, error) {
	var textBuilder []byte

	for {
		if ctx.Err() != nil {
			return agent.ChatResponse{Text: string(textBuilder)}, ctx.Err()
		}

		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return agent.ChatResponse{Text: string(textBuilder)}, nil
			}
			return agent.ChatResponse{Text: string(textBuilder)}, err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			textBuilder = append(textBuilder, delta.Content...)
			onEvent(agent.StreamEvent{TextDelta: delta.Content})
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			onEvent(agent.StreamEvent{
				HasToolCallUpdate: true,
				ToolCallIndex:     index,
				ToolCallID:        tc.ID,
				ToolCallName:      tc.Function.Name,
				ArgumentsDelta:    tc.Function.Arguments,
			})
		}
	}
}

func (p *OpenAIProvider) convertMessages(system string, messages []agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case agent.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text()})
		case agent.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text()}
			for _, call := range m.ToolCalls() {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.ToolName,
						Arguments: canonicalArgsJSON(call.Arguments),
					},
				})
			}
			out = append(out, msg)
		case agent.RoleTool:
			for _, c := range m.Content {
				if c.Kind == agent.ContentFunctionResult {
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    c.Result,
						ToolCallID: c.ResultCallID,
					})
				}
			}
		}
	}
	return out
}

func (p *OpenAIProvider) convertTools(schemas []agent.Schema) []openai.Tool {
	out := make([]openai.Tool, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return true
}

func canonicalArgsJSON(args map[string]any) string {
	call := agent.ToolCall{Arguments: args}
	return call.CanonicalArgs()
}
