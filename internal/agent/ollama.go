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

// ollamaModel calls a local or remote Ollama chat endpoint
type ollamaModel struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

func (m *ollamaModel) generate(ctx context.Context, system string, msgs []session.Message, tools []mcp.Tool) (*reply, error) {
	ctx, span := m.tracer.Start(ctx, "ollama_api_call")
	defer span.End()

	start := time.Now()

	reqMessages := make([]backend.OllamaMessage, 0, len(msgs)+1)
	if system != "" {
		reqMessages = append(reqMessages, backend.OllamaMessage{
			Role:    "system",
			Content: system,
		})
	}
	for _, msg := range msgs {
		om := backend.OllamaMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, backend.OllamaToolCall{
				Function: backend.OllamaFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Args,
				},
			})
		}
		reqMessages = append(reqMessages, om)
	}

	reqTools := make([]backend.OllamaTool, len(tools))
	for i, t := range tools {
		reqTools[i] = backend.OllamaTool{
			Type: "function",
			Function: backend.OllamaFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}

	reqBody := backend.OllamaRequest{
		Model:    m.model,
		Messages: reqMessages,
		Stream:   false,
		Tools:    reqTools,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

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

	var apiResp backend.OllamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	recordDuration(ctx, m.meter, time.Since(start))

	rep := &reply{text: apiResp.Message.Content}
	for i, tc := range apiResp.Message.ToolCalls {
		// Ollama tool calls carry no IDs; synthesize stable ones per reply
		rep.toolCalls = append(rep.toolCalls, session.ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}

	return rep, nil
}
