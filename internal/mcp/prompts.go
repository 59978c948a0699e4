package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("explore_table",
		mcp.WithPromptDescription("Walk through a table using its helper queries and paged results"),
		mcp.WithArgument("connectionId",
			mcp.ArgumentDescription("Connection ID"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("table",
			mcp.ArgumentDescription("Table or view name"),
			mcp.RequiredArgument(),
		),
	), s.handleExploreTablePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("export_query",
		mcp.WithPromptDescription("Run a query and export its full result to a file"),
		mcp.WithArgument("connectionId",
			mcp.ArgumentDescription("Connection ID"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("query",
			mcp.ArgumentDescription("Query to run"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("path",
			mcp.ArgumentDescription("Destination file path"),
			mcp.RequiredArgument(),
		),
	), s.handleExportQueryPrompt)
}

func (s *Server) handleExploreTablePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	connID := req.Params.Arguments["connectionId"]
	table := req.Params.Arguments["table"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Explore %s on %s", table, connID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Explore the table "%s" on connection "%s". Follow these steps:

1. Use connection_get_structure to find the schema and whether it is a table or a view
2. Use connection_get_helpers with that table, schema and materialization
3. Run the "Columns" helper (if present) and then the "List" helper with connection_execute
4. Poll call_display_result for each call until its state is archived or failed, reading 50 rows at a time
5. Summarise the columns and what the sample rows suggest about the data`, table, connID),
				},
			},
		},
	}, nil
}

func (s *Server) handleExportQueryPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	connID := req.Params.Arguments["connectionId"]
	query := req.Params.Arguments["query"]
	path := req.Params.Arguments["path"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Export a query result to %s", path),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Export the result of this query on connection "%s" to %s:

%s

1. Submit it with connection_execute and keep the returned call id
2. Poll call_get until the state is terminal; stop and report the error if it is not archived
3. Use call_store_result with output "file", path "%s" and the format matching the file extension (csv, json or table)`, connID, path, query, path),
				},
			},
		},
	}, nil
}
