package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	connectionsURI = "dbconduit://connections"
	callsURIPrefix = "dbconduit://connection/"
	callsURISuffix = "/calls"
)

func (s *Server) registerResources() {
	// ── dbconduit://connections ────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		connectionsURI,
		"All Connections",
		mcp.WithMIMEType("application/json"),
	), s.handleConnectionsResource)

	// ── dbconduit://connection/{connectionId}/calls ────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			callsURIPrefix+"{connectionId}"+callsURISuffix,
			"Call History of a Connection",
		),
		s.handleCallsResource,
	)
}

type connectionSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	SourceID string `json:"sourceId"`
	Current  bool   `json:"current"`
}

func (s *Server) handleConnectionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	current, _ := s.handler.GetCurrentConnection()
	var summaries []connectionSummary
	for _, src := range s.handler.GetSources() {
		for _, c := range s.handler.SourceGetConnections(src.Name()) {
			summaries = append(summaries, connectionSummary{
				ID:       c.ID,
				Name:     c.Name,
				Type:     c.Type,
				SourceID: c.SourceID,
				Current:  c.ID == current.ID,
			})
		}
	}

	data, _ := json.MarshalIndent(summaries, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      connectionsURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleCallsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	connID := connIDFromURI(uri)
	if connID == "" {
		return nil, fmt.Errorf("could not extract connectionId from URI: %s", uri)
	}

	data, _ := json.MarshalIndent(s.handler.ConnectionGetCalls(connID), "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// connIDFromURI extracts the ID from "dbconduit://connection/{id}/calls".
func connIDFromURI(uri string) string {
	if !strings.HasPrefix(uri, callsURIPrefix) || !strings.HasSuffix(uri, callsURISuffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(uri, callsURIPrefix), callsURISuffix)
}
