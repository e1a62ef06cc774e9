package mcp

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Default timeouts for remote tool calls. Connect is kept short so a dead
// endpoint fails fast; reads allow for long-running tool executions.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// Client represents a connection to an MCP server
type Client interface {
	// Initialize establishes connection to MCP server
	Initialize(ctx context.Context) error

	// ListTools returns available tools from this MCP server
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool invokes a tool with given arguments. meta carries out-of-band
	// call metadata (caller identity headers); it never merges into args.
	CallTool(ctx context.Context, toolName string, args map[string]interface{}, meta map[string]string) (interface{}, error)

	// Close disconnects from the MCP server
	Close() error

	// Name returns the client identifier
	Name() string
}

// Tool represents an MCP tool/function available for invocation
type Tool struct {
	Name        string                 // Tool name
	Description string                 // Tool description
	InputSchema map[string]interface{} // JSON Schema for input parameters
}

// Dial creates a client for the given server URL, selecting the transport
// by scheme: ws:// and wss:// use WebSocket, everything else streamable HTTP.
// apiKey is sent as a bearer credential on every request. The client is
// named after the endpoint host.
func Dial(rawURL, apiKey string, logger *slog.Logger) (Client, error) {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		name = u.Host
	}
	if strings.HasPrefix(rawURL, "ws://") || strings.HasPrefix(rawURL, "wss://") {
		return NewWebSocketClient(name, rawURL, apiKey, logger)
	}
	return NewHTTPClient(name, rawURL, apiKey, logger)
}
