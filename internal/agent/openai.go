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

// openaiModel calls OpenAI-compatible chat completion APIs. A configurable
// base URL covers self-hosted and third-party compatible endpoints.
type openaiModel struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

func (m *openaiModel) generate(ctx context.Context, system string, msgs []session.Message, tools []mcp.Tool) (*reply, error) {
	ctx, span := m.tracer.Start(ctx, "openai_api_call")
	defer span.End()

	start := time.Now()

	reqMessages := make([]backend.OpenAIMessage, 0, len(msgs)+1)
	if system != "" {
		reqMessages = append(reqMessages, backend.OpenAIMessage{
			Role:    "system",
			Content: system,
		})
	}
	for _, msg := range msgs {
		reqMessages = append(reqMessages, toOpenAIMessage(msg))
	}

	reqBody := backend.OpenAIRequest{
		Model:    m.model,
		Messages: reqMessages,
		Tools:    toOpenAITools(tools),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+m.apiKey)
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

	var apiResp backend.OpenAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	recordDuration(ctx, m.meter, time.Since(start))
	recordUsage(ctx, m.meter, m.logger, apiResp.Usage)

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	choice := apiResp.Choices[0]
	rep := &reply{text: choice.Message.Content}
	for i, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				m.logger.Warn("failed to decode tool call arguments", "tool", tc.Function.Name, "error", err)
			}
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		rep.toolCalls = append(rep.toolCalls, session.ToolCall{
			ID:   id,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	return rep, nil
}

// toOpenAIMessage maps a history message to the OpenAI wire format
func toOpenAIMessage(msg session.Message) backend.OpenAIMessage {
	switch msg.Role {
	case session.RoleTool:
		return backend.OpenAIMessage{
			Role:       "tool",
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.ToolName,
		}
	case session.RoleAssistant:
		om := backend.OpenAIMessage{Role: "assistant", Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Args)
			if err != nil {
				args = []byte("{}")
			}
			om.ToolCalls = append(om.ToolCalls, backend.OpenAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: backend.OpenAIFunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		return om
	default:
		return backend.OpenAIMessage{Role: msg.Role, Content: msg.Content}
	}
}

func toOpenAITools(tools []mcp.Tool) []backend.OpenAITool {
	out := make([]backend.OpenAITool, len(tools))
	for i, t := range tools {
		out[i] = backend.OpenAITool{
			Type: "function",
			Function: backend.OpenAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return out
}
