// Package mcp mounts the knowledge-base tools on a Model Context Protocol
// server so that agent runtimes can search the KB and report resolutions
// over the same endpoint the HTTP API runs on.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server wraps the mcp-go MCPServer behind the kb-engine HTTP surface.
type Server struct {
	inner *server.MCPServer
}

// NewServer builds the MCP server that exposes knowledge-base tools to
// model clients. Tools are registered by the caller through MCP().
func NewServer(name, version string, logger *zap.Logger) *Server {
	inner := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)
	logger.Debug("MCP server initialized",
		zap.String("server_name", name),
		zap.String("server_version", version))
	return &Server{inner: inner}
}

// MCP exposes the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.inner
}

// Handler returns the streamable HTTP transport for mounting on a mux.
// The transport is stateless: every call carries a complete JSON-RPC
// message and no session state is kept between requests.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(
		s.inner,
		server.WithStateLess(true),
	)
}
