package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"dbconduit/internal/domain"
	"dbconduit/internal/export"
)

func (s *Server) registerCallTools() {
	s.mcp.AddTool(mcp.NewTool("call_get",
		mcp.WithDescription("Get the current state of a call"),
		mcp.WithString("callId", mcp.Description("Call ID"), mcp.Required()),
	), s.handleGetCall)

	s.mcp.AddTool(mcp.NewTool("call_cancel",
		mcp.WithDescription("Request cancellation of a running call; no effect once it has finished"),
		mcp.WithString("callId", mcp.Description("Call ID"), mcp.Required()),
	), s.handleCancel)

	s.mcp.AddTool(mcp.NewTool("call_display_result",
		mcp.WithDescription("Get rows [from, to) of a call's result and the number of rows known so far"),
		mcp.WithString("callId", mcp.Description("Call ID"), mcp.Required()),
		mcp.WithNumber("from", mcp.Description("First row index (default 0)")),
		mcp.WithNumber("to", mcp.Description("End row index, exclusive (default from + page size)")),
	), s.handleDisplayResult)

	s.mcp.AddTool(mcp.NewTool("call_store_result",
		mcp.WithDescription("Export a row range of a call as csv, json or table to a file, buffer or clipboard register"),
		mcp.WithString("callId", mcp.Description("Call ID"), mcp.Required()),
		mcp.WithString("format", mcp.Description("csv, json or table"), mcp.Required()),
		mcp.WithString("output", mcp.Description("file, buffer or clipboard"), mcp.Required()),
		mcp.WithString("path", mcp.Description("File path (output=file)")),
		mcp.WithNumber("handle", mcp.Description("Buffer handle (output=buffer)")),
		mcp.WithString("register", mcp.Description("Clipboard register (output=clipboard, default +)")),
		mcp.WithNumber("from", mcp.Description("First row index (default 0)")),
		mcp.WithNumber("to", mcp.Description("End row index, exclusive (default all rows)")),
	), s.handleStoreResult)
}

// page is a DisplaySink that keeps what it is given, so it can be returned.
type page struct {
	Header domain.Header `json:"header"`
	Rows   []domain.Row  `json:"rows"`
	From   int           `json:"from"`
	Total  int           `json:"total"`
	State  string        `json:"state"`
}

func (p *page) Display(header domain.Header, rows []domain.Row, from, total int) error {
	p.Header, p.Rows, p.From, p.Total = header, rows, from, total
	return nil
}

func (s *Server) handleGetCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "callId")
	if err != nil {
		return nil, err
	}
	call, err := s.handler.GetCall(id)
	if err != nil {
		return nil, err
	}
	return jsonResult(call)
}

func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "callId")
	if err != nil {
		return nil, err
	}
	if err := s.handler.CallCancel(id); err != nil {
		return nil, err
	}
	call, _ := s.handler.GetCall(id)
	return jsonResult(call)
}

func (s *Server) handleDisplayResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := requireString(args, "callId")
	if err != nil {
		return nil, err
	}
	from := int(getFloat(args, "from", 0))
	to := int(getFloat(args, "to", float64(from+s.pageSize)))

	p := &page{From: from, Rows: []domain.Row{}}
	p.Total = s.handler.CallDisplayResult(id, p, from, to)
	if call, err := s.handler.GetCall(id); err == nil {
		p.State = string(call.State)
	}
	if p.Rows == nil {
		p.Rows = []domain.Row{}
	}
	return jsonResult(p)
}

func (s *Server) handleStoreResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := requireString(args, "callId")
	if err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(getString(args, "format"))
	if err != nil {
		return nil, err
	}
	target, err := parseTarget(args)
	if err != nil {
		return nil, err
	}
	from := int(getFloat(args, "from", 0))
	to := int(getFloat(args, "to", -1))

	if err := s.handler.CallStoreResult(id, format, target, from, to); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("stored %s to %s", format, domain.OutputKind(target))), nil
}

func parseTarget(args map[string]any) (domain.OutputTarget, error) {
	switch output := getString(args, "output"); output {
	case "file":
		path, err := requireString(args, "path")
		if err != nil {
			return nil, err
		}
		return domain.FileTarget{Path: path}, nil
	case "buffer":
		if _, ok := args["handle"]; !ok {
			return nil, fmt.Errorf("handle is required")
		}
		return domain.BufferTarget{Handle: int(getFloat(args, "handle", 0))}, nil
	case "clipboard":
		reg := getString(args, "register")
		if reg == "" {
			reg = "+"
		}
		return domain.ClipboardTarget{Register: reg}, nil
	default:
		return nil, fmt.Errorf("unknown output %q (want file, buffer or clipboard)", output)
	}
}
