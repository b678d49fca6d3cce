// Package mcp exposes the gateway's tool catalogue over the Model Context
// Protocol so local agents can call the same tools the chat loop uses.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"redgate/internal/tools"
)

// Server bridges the tool executor onto MCP.
type Server struct {
	executor *tools.Executor
}

// NewServer wraps the gateway's executor.
func NewServer(executor *tools.Executor) *Server {
	return &Server{executor: executor}
}

// MCPServer returns a configured mcp-go server with the whole catalogue
// registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("redgate", "1.0.0", server.WithToolCapabilities(true))
	for _, desc := range tools.All() {
		srv.AddTool(s.tool(desc))
	}
	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// tool converts a catalogue descriptor into an MCP tool plus its handler.
func (s *Server) tool(desc tools.Descriptor) (mcp.Tool, server.ToolHandlerFunc) {
	opts := []mcp.ToolOption{mcp.WithDescription(desc.Description)}
	for _, p := range desc.Params {
		paramOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			paramOpts = append(paramOpts, mcp.Required())
		}
		if len(p.Enum) > 0 {
			paramOpts = append(paramOpts, mcp.Enum(p.Enum...))
		}
		switch p.Type {
		case "integer":
			opts = append(opts, mcp.WithNumber(p.Name, paramOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, paramOpts...))
		}
	}

	name := desc.Name
	handler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload, isError := s.executor.Execute(ctx, name, request.GetArguments())
		if isError {
			return mcp.NewToolResultError(payload), nil
		}
		return mcp.NewToolResultText(payload), nil
	}
	return mcp.NewTool(name, opts...), handler
}
