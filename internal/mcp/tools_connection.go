package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"dbconduit/internal/domain"
)

func (s *Server) registerConnectionTools() {
	s.mcp.AddTool(mcp.NewTool("connection_execute",
		mcp.WithDescription("Submit a query; returns the call immediately while it runs in the background"),
		mcp.WithString("connectionId", mcp.Description("Connection ID"), mcp.Required()),
		mcp.WithString("query", mcp.Description("Query text"), mcp.Required()),
	), s.handleExecute)

	s.mcp.AddTool(mcp.NewTool("connection_get_structure",
		mcp.WithDescription("Get the schema tree (tables, views, database switch, history)"),
		mcp.WithString("connectionId", mcp.Description("Connection ID"), mcp.Required()),
	), s.handleGetStructure)

	s.mcp.AddTool(mcp.NewTool("connection_list_databases",
		mcp.WithDescription("Get the selected database and the other available ones"),
		mcp.WithString("connectionId", mcp.Description("Connection ID"), mcp.Required()),
	), s.handleListDatabases)

	s.mcp.AddTool(mcp.NewTool("connection_select_database",
		mcp.WithDescription("Switch the database of a connection"),
		mcp.WithString("connectionId", mcp.Description("Connection ID"), mcp.Required()),
		mcp.WithString("database", mcp.Description("Database name"), mcp.Required()),
	), s.handleSelectDatabase)

	s.mcp.AddTool(mcp.NewTool("connection_get_calls",
		mcp.WithDescription("List the call history of a connection, oldest first"),
		mcp.WithString("connectionId", mcp.Description("Connection ID"), mcp.Required()),
	), s.handleGetCalls)

	s.mcp.AddTool(mcp.NewTool("connection_get_helpers",
		mcp.WithDescription("Get helper queries for a table or view"),
		mcp.WithString("connectionId", mcp.Description("Connection ID"), mcp.Required()),
		mcp.WithString("table", mcp.Description("Table name"), mcp.Required()),
		mcp.WithString("schema", mcp.Description("Schema name")),
		mcp.WithString("materialization", mcp.Description("table or view (default table)")),
	), s.handleGetHelpers)

	s.mcp.AddTool(mcp.NewTool("set_current_connection",
		mcp.WithDescription("Mark a connection as the active one"),
		mcp.WithString("connectionId", mcp.Description("Connection ID"), mcp.Required()),
	), s.handleSetCurrent)

	s.mcp.AddTool(mcp.NewTool("get_current_connection",
		mcp.WithDescription("Get the active connection"),
	), s.handleGetCurrent)
}

func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	connID := getString(args, "connectionId")
	query := getString(args, "query")
	if connID == "" || query == "" {
		return nil, fmt.Errorf("connectionId and query are required")
	}

	if s.approval != nil && isWrite(query) {
		approved, err := s.approval.Request("connection_execute",
			fmt.Sprintf("Execute write query on %s: %s", connID, truncate(query, 100)))
		if err != nil || !approved {
			return textResult("Write query rejected by user"), nil
		}
	}

	call, err := s.handler.ConnectionExecute(connID, query)
	if err != nil {
		return nil, err
	}
	return jsonResult(call)
}

func (s *Server) handleGetStructure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID, err := requireString(req.GetArguments(), "connectionId")
	if err != nil {
		return nil, err
	}
	nodes, err := s.handler.ConnectionGetStructure(connID)
	if err != nil {
		return nil, fmt.Errorf("structure: %w", err)
	}
	return jsonResult(nodes)
}

func (s *Server) handleListDatabases(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID, err := requireString(req.GetArguments(), "connectionId")
	if err != nil {
		return nil, err
	}
	current, available, err := s.handler.ConnectionListDatabases(connID)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return jsonResult(map[string]any{"current": current, "available": available})
}

func (s *Server) handleSelectDatabase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	connID, err := requireString(args, "connectionId")
	if err != nil {
		return nil, err
	}
	db, err := requireString(args, "database")
	if err != nil {
		return nil, err
	}
	if err := s.handler.ConnectionSelectDatabase(connID, db); err != nil {
		return nil, fmt.Errorf("select database: %w", err)
	}
	return textResult("ok"), nil
}

func (s *Server) handleGetCalls(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID, err := requireString(req.GetArguments(), "connectionId")
	if err != nil {
		return nil, err
	}
	calls := s.handler.ConnectionGetCalls(connID)
	if calls == nil {
		calls = []domain.CallDetails{}
	}
	return jsonResult(calls)
}

func (s *Server) handleGetHelpers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	connID, err := requireString(args, "connectionId")
	if err != nil {
		return nil, err
	}
	helpers := s.handler.ConnectionGetHelpers(connID, domain.HelperOptions{
		Table:           getString(args, "table"),
		Schema:          getString(args, "schema"),
		Materialization: getString(args, "materialization"),
	})
	if helpers == nil {
		helpers = map[string]string{}
	}
	return jsonResult(helpers)
}

func (s *Server) handleSetCurrent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID, err := requireString(req.GetArguments(), "connectionId")
	if err != nil {
		return nil, err
	}
	if err := s.handler.SetCurrentConnection(connID); err != nil {
		return nil, err
	}
	return textResult("ok"), nil
}

func (s *Server) handleGetCurrent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, ok := s.handler.GetCurrentConnection()
	if !ok {
		return textResult("null"), nil
	}
	return jsonResult(conn)
}
