// Package mcpserver exposes the read-only repository capabilities over MCP.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/floegence/reposcout/internal/ai/tools"
	"github.com/floegence/reposcout/internal/metrics"
)

const serverName = "reposcout"

type Options struct {
	Executor *tools.Executor
	Version  string
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Server serves one repository branch. Tool names and input schemas match
// the capabilities offered to the model.
type Server struct {
	exec    *tools.Executor
	metrics *metrics.Recorder
	log     *slog.Logger
	mcp     *server.MCPServer

	seq atomic.Int64
}

func New(opts Options) (*Server, error) {
	if opts.Executor == nil {
		return nil, errors.New("missing capability executor")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{exec: opts.Executor, metrics: opts.Metrics, log: log}
	s.mcp = server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(fmt.Sprintf("Read-only exploration of %s. Start with list_directory at the root.", opts.Executor.Ref().String())),
	)
	for _, def := range tools.Definitions() {
		s.mcp.AddTool(mcp.NewToolWithRawSchema(string(def.Name), def.Description, def.InputSchema), s.handler(def.Name))
	}
	return s, nil
}

// MCP returns the underlying server, for transports other than stdio.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio blocks serving JSON-RPC on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handler(c tools.Capability) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := fmt.Sprintf("mcp_%d", s.seq.Add(1))
		call := s.exec.Dispatch(ctx, id, string(c), req.GetArguments())

		status := "ok"
		if call.Error != nil {
			status = string(call.Error.Code)
		}
		s.metrics.CapabilityCall(string(c), status, call.Duration)

		if call.Error != nil {
			s.log.Debug("mcp capability failed", "capability", c, "code", call.Error.Code, "error", call.Error.Message)
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s", call.Error.Code, call.Error.Message)), nil
		}
		return mcp.NewToolResultText(call.ResultText()), nil
	}
}
