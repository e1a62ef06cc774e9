package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"BeeChat/internal/config"
	"BeeChat/internal/mcp"
	"BeeChat/internal/session"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// progressToolName is the local tool the model calls to narrate progress.
// It is dispatched to the session's notifier, not the remote tool service,
// and does not count against the remote call budget.
const progressToolName = "send_progress_update"

// Gateway mediates remote tool calls on behalf of the agent
type Gateway interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}, sess *session.Session) interface{}
	Tools() []mcp.Tool
}

// reply is one model generation: final text, or requested tool calls, or both
type reply struct {
	text      string
	toolCalls []session.ToolCall
}

// model is a single selected LLM backend
type model interface {
	generate(ctx context.Context, system string, msgs []session.Message, tools []mcp.Tool) (*reply, error)
}

// Agent composes a model backend, the gateway's tool set and the progress
// notifier into one reasoning loop. The backend is resolved once at
// construction; per-turn code never dispatches on provider names.
type Agent struct {
	model    model
	gateway  Gateway
	logger   *slog.Logger
	tracer   trace.Tracer
	maxSteps int
}

// New builds the agent runtime for the configured provider. An unrecognized
// provider name or a missing credential is a startup-fatal configuration
// error naming the variable to set.
func New(cfg config.Config, gw Gateway, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Agent, error) {
	httpClient := &http.Client{Timeout: 60 * time.Second}

	var m model
	switch cfg.Provider.Name {
	case config.ProviderOpenAI:
		if cfg.Provider.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("provider %q selected but OPENAI_API_KEY is not set", cfg.Provider.Name)
		}
		baseURL := cfg.Provider.OpenAIBaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		m = &openaiModel{
			apiKey:     cfg.Provider.OpenAIAPIKey,
			baseURL:    baseURL,
			model:      cfg.Provider.Model,
			httpClient: httpClient,
			logger:     logger,
			tracer:     tracer,
			meter:      meter,
		}
	case config.ProviderAnthropic:
		if cfg.Provider.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("provider %q selected but ANTHROPIC_API_KEY is not set", cfg.Provider.Name)
		}
		m = &anthropicModel{
			apiKey:     cfg.Provider.AnthropicAPIKey,
			model:      cfg.Provider.Model,
			httpClient: httpClient,
			logger:     logger,
			tracer:     tracer,
			meter:      meter,
		}
	case config.ProviderOllama:
		if cfg.Provider.OllamaURL == "" {
			return nil, fmt.Errorf("provider %q selected but OLLAMA_URL is not set", cfg.Provider.Name)
		}
		m = &ollamaModel{
			baseURL:    cfg.Provider.OllamaURL,
			model:      cfg.Provider.Model,
			httpClient: httpClient,
			logger:     logger,
			tracer:     tracer,
			meter:      meter,
		}
	default:
		return nil, fmt.Errorf("unknown provider %q (expected %s, %s or %s)",
			cfg.Provider.Name, config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama)
	}

	return &Agent{
		model:    m,
		gateway:  gw,
		logger:   logger,
		tracer:   tracer,
		maxSteps: cfg.Agent.MaxSteps,
	}, nil
}

// Run performs one conversation turn: it feeds the model the history, the
// new message and optional extra instructions, routes requested tool calls
// through the gateway (or the notifier for progress updates), and loops
// until the model produces a final answer or the step budget runs out.
// Failed model generations are not retried here.
func (a *Agent) Run(ctx context.Context, sess *session.Session, history []session.Message, userMessage, extraInstructions string) (string, []session.Message, error) {
	ctx, span := a.tracer.Start(ctx, "agent_turn")
	defer span.End()

	msgs := make([]session.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, session.Message{
		Role:      session.RoleUser,
		Content:   userMessage,
		Timestamp: time.Now(),
	})

	system := systemPrompt
	if extraInstructions != "" {
		system += "\n\n" + extraInstructions
	}

	tools := a.toolSet()

	for step := 0; step < a.maxSteps; step++ {
		rep, err := a.model.generate(ctx, system, msgs, tools)
		if err != nil {
			return "", nil, err
		}

		if len(rep.toolCalls) == 0 {
			msgs = append(msgs, session.Message{
				Role:      session.RoleAssistant,
				Content:   rep.text,
				Timestamp: time.Now(),
			})
			return rep.text, msgs, nil
		}

		msgs = append(msgs, session.Message{
			Role:      session.RoleAssistant,
			Content:   rep.text,
			ToolCalls: rep.toolCalls,
			Timestamp: time.Now(),
		})

		for _, tc := range rep.toolCalls {
			msgs = append(msgs, session.Message{
				Role:       session.RoleTool,
				Content:    a.dispatch(ctx, tc, sess),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Timestamp:  time.Now(),
			})
		}
	}

	return "", nil, fmt.Errorf("no final answer after %d generations", a.maxSteps)
}

// dispatch routes one tool call: progress updates go to the session's
// notifier, everything else to the gateway. The result is rendered as the
// tool message content.
func (a *Agent) dispatch(ctx context.Context, tc session.ToolCall, sess *session.Session) string {
	if tc.Name == progressToolName {
		message, _ := tc.Args["message"].(string)
		return sess.SendProgress(message)
	}

	result := a.gateway.Invoke(ctx, tc.Name, tc.Args, sess)
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

// toolSet combines the remote tool schemas with the local progress tool
func (a *Agent) toolSet() []mcp.Tool {
	tools := a.gateway.Tools()
	return append(tools, mcp.Tool{
		Name:        progressToolName,
		Description: "Send a progress update to the user while working through multi-step changes.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"message": map[string]interface{}{
					"type":        "string",
					"description": "The progress message to send to the user",
				},
			},
			"required": []interface{}{"message"},
		},
	})
}
