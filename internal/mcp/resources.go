package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// MarkersURI names the snapshot resource.
const MarkersURI = "markit://markers"

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource(MarkersURI, "markers",
		mcp.WithResourceDescription("Current marker tree as {markers, activeMarkerId}"),
		mcp.WithMIMEType("application/json"),
	), s.readMarkers)
}

func (s *Server) readMarkers(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := s.markers.Snapshot()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      MarkersURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
