package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"BeeChat/internal/mcp"
	"BeeChat/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeToolClient records calls and returns a canned result or error
type fakeToolClient struct {
	calls    int
	lastName string
	lastArgs map[string]interface{}
	lastMeta map[string]string
	result   interface{}
	err      error
	tools    []mcp.Tool
	listErr  error
}

func (f *fakeToolClient) Initialize(ctx context.Context) error { return nil }

func (f *fakeToolClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeToolClient) CallTool(ctx context.Context, name string, args map[string]interface{}, meta map[string]string) (interface{}, error) {
	f.calls++
	f.lastName = name
	f.lastArgs = args
	f.lastMeta = meta
	return f.result, f.err
}

func (f *fakeToolClient) Close() error { return nil }
func (f *fakeToolClient) Name() string { return "fake" }

func newTestGateway(client mcp.Client, limit int) *Gateway {
	return New(client, limit, nil, testLogger(), noop.NewTracerProvider().Tracer("test"))
}

func newTestSession() *session.Session {
	return session.New("user_abc12345", nil, testLogger())
}

func TestInvoke_InjectsCallerIdentity(t *testing.T) {
	client := &fakeToolClient{result: "ok"}
	gw := newTestGateway(client, 45)
	sess := newTestSession()

	// An identity-like argument from the model must not influence the header
	gw.Invoke(context.Background(), "beefree_add_image", map[string]interface{}{
		"src":       "https://placehold.co/600x300",
		"x-bee-uid": "user_spoofed",
		"uid":       "user_spoofed",
	}, sess)

	require.Equal(t, 1, client.calls)
	assert.Equal(t, "user_abc12345", client.lastMeta[IdentityHeader])
	assert.Equal(t, "user_spoofed", client.lastArgs["uid"], "arguments pass through untouched")
}

func TestInvoke_BudgetRejection(t *testing.T) {
	client := &fakeToolClient{result: "ok"}
	gw := newTestGateway(client, 45)
	sess := newTestSession()

	for i := 0; i < 45; i++ {
		out := gw.Invoke(context.Background(), "beefree_check_section", nil, sess)
		assert.Equal(t, "ok", out, "call %d should be within budget", i+1)
	}
	require.Equal(t, 45, client.calls)

	out := gw.Invoke(context.Background(), "beefree_check_template", nil, sess)
	payload, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "tool_call_limit_reached", payload["error"])
	assert.Equal(t, "beefree_check_template", payload["tool"])
	assert.Equal(t, 45, client.calls, "rejected call must not reach the remote service")

	// Every subsequent call stays rejected
	out = gw.Invoke(context.Background(), "beefree_get_selected", nil, sess)
	payload = out.(map[string]interface{})
	assert.Equal(t, "tool_call_limit_reached", payload["error"])
	assert.Equal(t, 45, client.calls)
}

func TestInvoke_UnlimitedWhenZero(t *testing.T) {
	client := &fakeToolClient{result: "ok"}
	gw := newTestGateway(client, 0)
	sess := newTestSession()

	for i := 0; i < 100; i++ {
		gw.Invoke(context.Background(), "beefree_add_row", nil, sess)
	}
	assert.Equal(t, 100, client.calls)
}

func TestInvoke_ContainsExecutionFailure(t *testing.T) {
	client := &fakeToolClient{err: errors.New("HTTP error 502: bad gateway")}
	gw := newTestGateway(client, 45)
	sess := newTestSession()

	out := gw.Invoke(context.Background(), "beefree_set_email_metadata", map[string]interface{}{"subject": "Hi"}, sess)

	payload, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, payload["error"], "502")
	assert.Equal(t, "beefree_set_email_metadata", payload["tool"])
}

func TestInvoke_PassesThroughResult(t *testing.T) {
	client := &fakeToolClient{result: mcp.CallToolResult{
		Content: []mcp.Content{{Type: "text", Text: "hierarchy: ..."}},
	}}
	gw := newTestGateway(client, 45)

	out := gw.Invoke(context.Background(), "beefree_get_content_hierarchy", nil, newTestSession())

	result, ok := out.(mcp.CallToolResult)
	require.True(t, ok)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hierarchy: ...", result.Content[0].Text)
}

func TestRefreshTools(t *testing.T) {
	client := &fakeToolClient{tools: []mcp.Tool{
		{Name: "beefree_add_row", Description: "Add a row"},
		{Name: "beefree_check_template", Description: "Validate the template"},
	}}
	gw := newTestGateway(client, 45)

	require.NoError(t, gw.RefreshTools(context.Background()))
	tools := gw.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "beefree_add_row", tools[0].Name)
}

func TestRefreshTools_Error(t *testing.T) {
	client := &fakeToolClient{listErr: errors.New("list tools failed")}
	gw := newTestGateway(client, 45)

	require.Error(t, gw.RefreshTools(context.Background()))
	assert.Empty(t, gw.Tools())
}
