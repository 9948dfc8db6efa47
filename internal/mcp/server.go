// Package mcp exposes the marker store to AI assistants as MCP tools served
// over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/marker"
)

// Markers is the store surface the tools need. Implementations serialize
// calls with the rest of the host.
type Markers interface {
	Mark(fileName string, rng marker.Range, content string) (*marker.Marker, error)
	Remove(id string) (bool, error)
	Activate(id string) (bool, error)
	Snapshot() (marker.Snapshot, error)
}

// Server wraps an MCP server bound to a marker store.
type Server struct {
	config  *config.Config
	markers Markers
	mcp     *server.MCPServer
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(cfg *config.Config, markers Markers, version string) *Server {
	s := &Server{
		config:  cfg,
		markers: markers,
		mcp: server.NewMCPServer("markit", version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP on stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	s.config.Log(0, "Starting MCP server on stdio...")
	return server.ServeStdio(s.mcp)
}
