package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zot/markit/internal/marker"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("mark",
		mcp.WithDescription("Drop a marker on a text range. The marker becomes a child of the active marker and becomes active."),
		mcp.WithString("fileName", mcp.Required(), mcp.Description("Absolute path of the file")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Zero-based start line")),
		mcp.WithNumber("character", mcp.Description("Zero-based start character")),
		mcp.WithNumber("endLine", mcp.Description("Zero-based end line, defaults to line")),
		mcp.WithNumber("endCharacter", mcp.Description("Zero-based end character, defaults to character")),
		mcp.WithString("content", mcp.Description("Text captured at the range")),
	), s.handleMark)

	s.mcp.AddTool(mcp.NewTool("list_markers",
		mcp.WithDescription("Return the marker tree as {markers, activeMarkerId}"),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool("remove_marker",
		mcp.WithDescription("Remove a marker and all of its descendants"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Marker id")),
	), s.handleRemove)

	s.mcp.AddTool(mcp.NewTool("activate_marker",
		mcp.WithDescription("Make a marker active and open its document at the marked range"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Marker id")),
	), s.handleActivate)
}

func (s *Server) handleMark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileName, err := req.RequireString("fileName")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	line, err := req.RequireInt("line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	character := req.GetInt("character", 0)
	rng := marker.Range{
		Start: marker.Position{Line: line, Character: character},
		End: marker.Position{
			Line:      req.GetInt("endLine", line),
			Character: req.GetInt("endCharacter", character),
		},
	}

	m, err := s.markers.Mark(fileName, rng, req.GetString("content", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("mark failed: %v", err)), nil
	}
	s.config.Log(2, "mcp: marked %s at %s:%s", m.ID, fileName, rng)
	return jsonResult(m)
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.markers.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(snap)
}

func (s *Server) handleRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ok, err := s.markers.Remove(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok {
		return mcp.NewToolResultError("no marker " + id), nil
	}
	return mcp.NewToolResultText("removed " + id), nil
}

func (s *Server) handleActivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ok, err := s.markers.Activate(id)
	if !ok && err == nil {
		return mcp.NewToolResultError("no marker " + id), nil
	}
	if err != nil {
		// Activation is committed even when navigation fails.
		return mcp.NewToolResultText(fmt.Sprintf("activated %s, open failed: %v", id, err)), nil
	}
	return mcp.NewToolResultText("activated " + id), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
