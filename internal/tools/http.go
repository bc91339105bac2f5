package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/orcacoder/orca/internal/agent"
	"github.com/orcacoder/orca/internal/ratelimit"
)

const maxHTTPBodyBytes = 200_000

// HTTPFetchTool performs a GET request, throttled per host through a shared
// RateLimiter so the agent can't hammer a single origin across turns.
type HTTPFetchTool struct {
	limiter *ratelimit.Limiter
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPFetchTool(limiter *ratelimit.Limiter) *HTTPFetchTool {
	return &HTTPFetchTool{
		limiter: limiter,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
}

func (t *HTTPFetchTool) Name() string         { return "http_fetch" }
func (t *HTTPFetchTool) Description() string  { return "Fetches a URL over HTTP GET, rate-limited per host." }
func (t *HTTPFetchTool) Risk() agent.RiskTier { return agent.RiskModerate }
func (t *HTTPFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)
}
func (t *HTTPFetchTool) SetLogger(l *slog.Logger) { t.logger = l }

func (t *HTTPFetchTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return agent.Error("url is required", ""), nil
	}

	if t.limiter != nil {
		t.limiter.Throttle(url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return agent.Error(err.Error(), ""), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return agent.Error(fmt.Sprintf("request failed: %v", err), ""), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBodyBytes))
	if err != nil {
		return agent.Error(fmt.Sprintf("read response: %v", err), ""), nil
	}
	return agent.Success(fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, string(body))), nil
}
