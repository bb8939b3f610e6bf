// Package toolhost routes model tool calls to their implementations.
//
// It connects to external MCP servers via stdio or streamable-HTTP transports
// using the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk),
// maintains a concurrent-safe in-memory tool registry, and also hosts
// in-process Go builtins that skip protocol overhead entirely.
//
// Typical usage:
//
//	h := toolhost.New()
//
//	// Register an external MCP server.
//	err := h.RegisterServer(ctx, toolhost.ServerConfig{
//	    Name:      "printers",
//	    Transport: toolhost.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-printer-server",
//	})
//
//	// Or register a built-in Go function.
//	h.RegisterBuiltin(toolhost.BuiltinTool{
//	    Definition: session.ToolDefinition{Name: "run_script", ...},
//	    Handler:    runScript,
//	})
//
//	result, err := h.ExecuteTool(ctx, "run_script", `{"script":"uptime"}`)
//	h.Close()
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fixer-ai/fixer/internal/observe"
	"github.com/fixer-ai/fixer/pkg/session"
)

// Transport identifies how the host reaches an external MCP server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes an external MCP server to connect to.
type ServerConfig struct {
	// Name identifies the server within the host. Must be unique.
	Name string

	// Transport selects stdio or streamable-http.
	Transport Transport

	// Command is the executable plus arguments for stdio servers,
	// split on spaces.
	Command string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string

	// URL is the endpoint address for streamable-http servers.
	URL string
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	// Content is the concatenated text output of the tool.
	Content string

	// IsError marks an application-level failure (the tool ran and reported
	// a problem). Transport and protocol failures surface as Go errors.
	IsError bool

	// DurationMs is the wall-clock execution time.
	DurationMs int64
}

// toolEntry holds the metadata for a single registered tool.
type toolEntry struct {
	def        session.ToolDefinition
	serverName string

	// builtinFn is non-nil for in-process tools registered via RegisterBuiltin.
	builtinFn func(ctx context.Context, args string) (string, error)
}

type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host is a concurrent-safe registry and dispatcher for model tools.
//
// The zero value is not usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections. The official SDK allows
	// a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client

	metrics *observe.Metrics
}

// Option configures a Host.
type Option func(*Host)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// New creates and returns a ready-to-use Host.
func New(opts ...Option) *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "fixer-toolhost", Version: "1.0.0"},
		nil,
	)
	h := &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue into the host. If a server with the same Name is already
// registered, the old connection is closed and replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("toolhost: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("toolhost: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("toolhost: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("toolhost: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	sess, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolhost: failed to connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range sess.Tools(ctx, nil) {
		if err != nil {
			_ = sess.Close()
			return fmt.Errorf("toolhost: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[cfg.Name] = serverConn{session: sess}

	for _, mcpTool := range discovered {
		h.tools[mcpTool.Name] = toolEntry{
			def: session.ToolDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  schemaToMap(mcpTool.InputSchema),
			},
			serverName: cfg.Name,
		}
	}

	return nil
}

// Definitions returns the descriptors of every registered tool, for handing
// to the live session setup or a chat completion request.
func (h *Host) Definitions() []session.ToolDefinition {
	h.mu.RLock()
	defer h.mu.RUnlock()

	defs := make([]session.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	return defs
}

// ExecuteTool calls the named tool with JSON-encoded args and returns the
// result. args must be a valid JSON object string; "{}" is valid for
// parameter-less tools.
//
// A non-nil *ToolResult is returned on success even when IsError is true
// (application-level error). A Go error is returned only on transport or
// protocol failure.
func (h *Host) ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("toolhost: tool %q not found", name)
	}

	start := time.Now()

	var result *ToolResult
	var execErr error

	if entry.builtinFn != nil {
		result, execErr = h.executeBuiltin(ctx, entry, args)
	} else {
		result, execErr = h.executeMCPTool(ctx, entry, args)
	}

	elapsed := time.Since(start)
	h.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds())

	status := "ok"
	if execErr != nil || (result != nil && result.IsError) {
		status = "error"
	}
	h.metrics.RecordToolCall(ctx, name, status)

	if execErr != nil {
		return nil, execErr
	}
	result.DurationMs = elapsed.Milliseconds()
	return result, nil
}

func (h *Host) executeBuiltin(ctx context.Context, entry toolEntry, args string) (*ToolResult, error) {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &ToolResult{Content: output}, nil
}

func (h *Host) executeMCPTool(ctx context.Context, entry toolEntry, args string) (*ToolResult, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("toolhost: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("toolhost: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("toolhost: call to tool %q failed: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	return &ToolResult{
		Content: sb.String(),
		IsError: callResult.IsError,
	}, nil
}

// Handler returns a session.ToolCallHandler that dispatches through the host,
// for wiring into a live session's tool-call events.
func (h *Host) Handler() session.ToolCallHandler {
	return func(name, args string) (string, error) {
		res, err := h.ExecuteTool(context.Background(), name, args)
		if err != nil {
			return "", err
		}
		if res.IsError {
			return "", fmt.Errorf("toolhost: tool %q reported: %s", name, res.Content)
		}
		return res.Content, nil
	}
}

// Close shuts down all server connections and releases associated resources.
// After Close returns the Host must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("toolhost: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}

	h.tools = make(map[string]toolEntry)

	return firstErr
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
