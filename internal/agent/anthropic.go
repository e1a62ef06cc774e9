package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"BeeChat/internal/backend"
	"BeeChat/internal/mcp"
	"BeeChat/internal/session"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const anthropicMaxTokens = 4096

// anthropicModel calls the Anthropic Messages API
type anthropicModel struct {
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

func (m *anthropicModel) generate(ctx context.Context, system string, msgs []session.Message, tools []mcp.Tool) (*reply, error) {
	ctx, span := m.tracer.Start(ctx, "anthropic_api_call")
	defer span.End()

	start := time.Now()

	reqBody := backend.AnthropicRequest{
		Model:     m.model,
		MaxTokens: anthropicMaxTokens,
		System:    system,
		Messages:  toAnthropicMessages(msgs),
		Tools:     toAnthropicTools(tools),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.anthropic.com/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", m.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var apiResp backend.AnthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	recordDuration(ctx, m.meter, time.Since(start))
	recordUsage(ctx, m.meter, m.logger, apiResp.Usage)

	rep := &reply{}
	for _, content := range apiResp.Content {
		switch content.Type {
		case "text":
			rep.text += content.Text
		case "tool_use":
			rep.toolCalls = append(rep.toolCalls, session.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: content.Input,
			})
		}
	}

	if rep.text == "" && len(rep.toolCalls) == 0 {
		return nil, fmt.Errorf("empty response from Anthropic")
	}

	return rep, nil
}

// toAnthropicMessages maps history messages to the Anthropic wire format.
// Consecutive tool results collapse into a single user message of
// tool_result blocks, as the API requires.
func toAnthropicMessages(msgs []session.Message) []backend.AnthropicMessage {
	out := make([]backend.AnthropicMessage, 0, len(msgs))
	var pendingResults []backend.AnthropicContent

	flush := func() {
		if len(pendingResults) == 0 {
			return
		}
		out = append(out, backend.AnthropicMessage{Role: "user", Content: pendingResults})
		pendingResults = nil
	}

	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleTool:
			pendingResults = append(pendingResults, backend.AnthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			})
		case session.RoleAssistant:
			flush()
			if len(msg.ToolCalls) == 0 {
				out = append(out, backend.AnthropicMessage{Role: "assistant", Content: msg.Content})
				continue
			}
			blocks := []backend.AnthropicContent{}
			if msg.Content != "" {
				blocks = append(blocks, backend.AnthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, backend.AnthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Args,
				})
			}
			out = append(out, backend.AnthropicMessage{Role: "assistant", Content: blocks})
		default:
			flush()
			out = append(out, backend.AnthropicMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	flush()

	return out
}

func toAnthropicTools(tools []mcp.Tool) []backend.AnthropicTool {
	out := make([]backend.AnthropicTool, len(tools))
	for i, t := range tools {
		out[i] = backend.AnthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return out
}
