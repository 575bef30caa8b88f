// Package mcp exposes the companion's memory and prompt assembly as MCP tools.
package mcp

import (
	"context"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/memvra/companion/internal/companion"
	ctxpkg "github.com/memvra/companion/internal/context"
	"github.com/memvra/companion/internal/memory"
	"github.com/memvra/companion/internal/profile"
	"github.com/memvra/companion/internal/timeline"
)

// Deps are the components the tools read and write.
type Deps struct {
	Engine   *companion.Engine
	Memories *memory.Store
	Profiles *profile.Resolver
	Timeline *timeline.Tracker
	Now      func() time.Time
}

// Server holds the tool handlers.
type Server struct {
	engine    *companion.Engine
	memories  *memory.Store
	profiles  *profile.Resolver
	timeline  *timeline.Tracker
	formatter *ctxpkg.Formatter
	now       func() time.Time
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Server{
		engine:    d.Engine,
		memories:  d.Memories,
		profiles:  d.Profiles,
		timeline:  d.Timeline,
		formatter: ctxpkg.NewFormatter(),
		now:       d.Now,
	}
}

// MCPServer builds an MCP server with every tool registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	ms := server.NewMCPServer(
		"companion",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.RegisterTools(ms)
	return ms
}

// Serve speaks MCP over in and out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, version string, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.MCPServer(version)).Listen(ctx, in, out)
}
