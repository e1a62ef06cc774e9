package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"BeeChat/internal/audit"
	"BeeChat/internal/mcp"
	"BeeChat/internal/session"

	"go.opentelemetry.io/otel/trace"
)

// IdentityHeader is the out-of-band metadata key carrying the caller
// identity on every remote tool call. The value always comes from the
// session, never from agent-supplied arguments.
const IdentityHeader = "x-bee-uid"

// Gateway mediates every remote tool invocation: it enforces the per-session
// call budget, injects the caller identity, and converts all failures into
// structured tool results so a tool error can never abort an agent turn.
type Gateway struct {
	client mcp.Client
	limit  int // 0 means unlimited
	store  *audit.Store
	logger *slog.Logger
	tracer trace.Tracer

	mu    sync.RWMutex
	tools []mcp.Tool
}

// New creates a gateway over the given tool client. limit 0 disables the
// call budget; store may be nil to disable auditing.
func New(client mcp.Client, limit int, store *audit.Store, logger *slog.Logger, tracer trace.Tracer) *Gateway {
	return &Gateway{
		client: client,
		limit:  limit,
		store:  store,
		logger: logger,
		tracer: tracer,
	}
}

// RefreshTools fetches the remote tool schemas and caches them
func (g *Gateway) RefreshTools(ctx context.Context) error {
	tools, err := g.client.ListTools(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.tools = tools
	g.mu.Unlock()

	g.logger.Info("refreshed remote tools", "count", len(tools))
	return nil
}

// Tools returns the cached remote tool schemas
func (g *Gateway) Tools() []mcp.Tool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]mcp.Tool, len(g.tools))
	copy(out, g.tools)
	return out
}

// Invoke dispatches one tool call on behalf of the session. It never returns
// an error: budget rejections and execution failures both come back as
// structured payloads the model can read and adapt to. No retries happen at
// this layer.
func (g *Gateway) Invoke(ctx context.Context, name string, args map[string]interface{}, sess *session.Session) interface{} {
	count := sess.NextToolCall()
	if g.limit > 0 && count > g.limit {
		g.logger.Warn("tool call limit reached, skipping tool",
			"session_id", sess.ID, "limit", g.limit, "tool", name)
		g.record(sess, name, audit.OutcomeRejected, "tool_call_limit_reached", 0)
		return map[string]interface{}{
			"error": "tool_call_limit_reached",
			"tool":  name,
		}
	}

	ctx, span := g.tracer.Start(ctx, "tool_call")
	defer span.End()

	start := time.Now()
	result, err := g.client.CallTool(ctx, name, args, map[string]string{
		IdentityHeader: sess.CallerID(),
	})
	elapsed := time.Since(start)

	if err != nil {
		g.logger.Error("tool call failed", "session_id", sess.ID, "tool", name, "error", err)
		g.record(sess, name, audit.OutcomeError, err.Error(), elapsed)
		return map[string]interface{}{
			"error": err.Error(),
			"tool":  name,
		}
	}

	g.record(sess, name, audit.OutcomeOK, "", elapsed)
	return result
}

func (g *Gateway) record(sess *session.Session, tool, outcome, detail string, elapsed time.Duration) {
	if g.store == nil {
		return
	}
	if err := g.store.RecordToolCall(sess.ID, sess.CallerID(), tool, outcome, detail, elapsed); err != nil {
		g.logger.Warn("failed to record tool call", "tool", tool, "error", err)
	}
}
