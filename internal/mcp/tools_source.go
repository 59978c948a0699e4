package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"dbconduit/internal/source"
)

func (s *Server) registerSourceTools() {
	s.mcp.AddTool(mcp.NewTool("get_sources",
		mcp.WithDescription("List registered connection sources, sorted by name"),
	), s.handleGetSources)

	s.mcp.AddTool(mcp.NewTool("source_reload",
		mcp.WithDescription("Reload a source and reconcile its connections; omit id to reload all"),
		mcp.WithString("id", mcp.Description("Source name")),
	), s.handleSourceReload)

	s.mcp.AddTool(mcp.NewTool("source_get_connections",
		mcp.WithDescription("List the live connections of a source, sorted by name"),
		mcp.WithString("id", mcp.Description("Source name"), mcp.Required()),
	), s.handleSourceGetConnections)

	s.mcp.AddTool(mcp.NewTool("source_add_connections",
		mcp.WithDescription("Add connections to a source and reload it"),
		mcp.WithString("id", mcp.Description("Source name"), mcp.Required()),
		mcp.WithArray("connections", mcp.Description(`Connection specs: [{"id"?, "name", "type", "url"}]`), mcp.Required()),
	), s.handleSourceSave(source.SaveAdd))

	s.mcp.AddTool(mcp.NewTool("source_remove_connections",
		mcp.WithDescription("Remove connections from a source and reload it"),
		mcp.WithString("id", mcp.Description("Source name"), mcp.Required()),
		mcp.WithArray("connections", mcp.Description(`Connection specs: [{"id"?, "name", "type"}]`), mcp.Required()),
	), s.handleSourceSave(source.SaveDelete))
}

type sourceSummary struct {
	Name    string `json:"name"`
	Saves   bool   `json:"saves"`
	Watched bool   `json:"watched"`
	Conns   int    `json:"connections"`
}

func (s *Server) handleGetSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var out []sourceSummary
	for _, src := range s.handler.GetSources() {
		_, saves := src.(source.Saver)
		_, watched := src.(source.Watchable)
		out = append(out, sourceSummary{
			Name:    src.Name(),
			Saves:   saves,
			Watched: watched,
			Conns:   len(s.handler.SourceGetConnections(src.Name())),
		})
	}
	return jsonResult(out)
}

type reloadStatus struct {
	Name        string `json:"name"`
	Connections int    `json:"connections"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleSourceReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := getString(req.GetArguments(), "id"); id != "" {
		if err := s.handler.SourceReload(id); err != nil {
			return nil, fmt.Errorf("reload %s: %w", id, err)
		}
		return jsonResult(s.handler.SourceGetConnections(id))
	}

	var out []reloadStatus
	for _, st := range s.handler.ReloadAll() {
		rs := reloadStatus{Name: st.Name, Connections: st.Connections}
		if st.Err != nil {
			rs.Error = st.Err.Error()
		}
		out = append(out, rs)
	}
	return jsonResult(out)
}

func (s *Server) handleSourceGetConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "id")
	if err != nil {
		return nil, err
	}
	conns := s.handler.SourceGetConnections(id)
	if conns == nil {
		return textResult("[]"), nil
	}
	return jsonResult(conns)
}

func (s *Server) handleSourceSave(op source.SaveOp) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		id, err := requireString(args, "id")
		if err != nil {
			return nil, err
		}
		specs, err := parseSpecs(args)
		if err != nil {
			return nil, err
		}

		if op == source.SaveAdd {
			err = s.handler.SourceAddConnections(id, specs)
		} else {
			err = s.handler.SourceRemoveConnections(id, specs)
		}
		if err != nil {
			return nil, err
		}
		conns := s.handler.SourceGetConnections(id)
		if conns == nil {
			return textResult("[]"), nil
		}
		return jsonResult(conns)
	}
}
