package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"dbconduit/internal/event"
	"dbconduit/internal/log"
	"dbconduit/internal/service"
)

// notificationPrefix namespaces handler events sent to the editor.
const notificationPrefix = "notifications/dbconduit/"

// Server exposes the handler to the editor as MCP tools, resources and prompts.
type Server struct {
	mcp      *server.MCPServer
	handler  *service.Handler
	approval *ApprovalQueue
	pageSize int

	unsubscribe []func()
}

// Deps holds what the app layer passes to the MCP server.
type Deps struct {
	Handler *service.Handler
	// PageSize is the default row count of call_display_result.
	PageSize int
	// ConfirmWrites makes write statements wait for approve_action.
	ConfirmWrites bool
	Version       string
}

// New creates and configures the MCP server with all tools and resources.
func New(ctx context.Context, deps Deps) *Server {
	if deps.PageSize <= 0 {
		deps.PageSize = 100
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{
		handler:  deps.Handler,
		pageSize: deps.PageSize,
	}
	if deps.ConfirmWrites {
		s.approval = NewApprovalQueue(ctx, s)
	}

	s.mcp = server.NewMCPServer(
		"dbconduit",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerSourceTools()
	s.registerConnectionTools()
	s.registerCallTools()
	s.registerApprovalTools()
	s.registerResources()
	s.registerPrompts()

	for _, name := range []string{event.CallStateChanged, event.ConnectionsChanged, event.CurrentConnectionChanged} {
		s.unsubscribe = append(s.unsubscribe, s.handler.RegisterEventListener(name, s.forward(name)))
	}
	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Logger.Info("mcp: starting stdio server")
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server, for in-process transports.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Close stops forwarding handler events.
func (s *Server) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
}

func (s *Server) forward(name string) event.Listener {
	return func(ctx context.Context, data any) {
		s.Emit(ctx, name, data)
	}
}

// Emit sends an event to every connected client as a notification.
func (s *Server) Emit(_ context.Context, name string, data any) {
	params, err := toParams(data)
	if err != nil {
		log.Logger.WithField("event", name).WithError(err).Warn("mcp: encode notification")
		return
	}
	s.mcp.SendNotificationToAllClients(notificationPrefix+name, params)
}

func toParams(data any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	if err := json.Unmarshal(raw, &params); err != nil {
		// scalars and arrays are wrapped
		return map[string]any{"data": json.RawMessage(raw)}, nil
	}
	return params, nil
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}
