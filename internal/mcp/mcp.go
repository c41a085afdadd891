// Package mcp implements the Model Context Protocol server for kansoku.
//
// The MCP server exposes the scenario pipeline through tools, so
// MCP-compatible agents can plan, run and retry scenario analyses without
// speaking the websocket protocol.
package mcp

import (
	"context"
	"log/slog"
	"sync"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/scenario"
)

// Runner is the slice of *scenario.Service the tools drive.
type Runner interface {
	ProcessScenario(ctx context.Context, query, sessionID string, sender scenario.Sender, userID string) (string, error)
	RetrySingle(ctx context.Context, messageID, subID string, agentType model.AgentKind, sessionID string, sender scenario.Sender, userID string) error
}

// CacheStatter is a result cache whose occupancy can be reported.
type CacheStatter interface {
	Name() string
	Stats() model.CacheStats
}

// Deps holds the MCP server's collaborators. Caches and ProtocolSpec are optional.
type Deps struct {
	Runner       Runner
	Caches       []CacheStatter
	ProtocolSpec []byte
	Version      string
	Logger       *slog.Logger
}

// Server wraps the MCP server with the scenario orchestrator.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	runner       Runner
	caches       []CacheStatter
	protocolSpec []byte
	logger       *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools and prompts.
func New(d Deps) *Server {
	s := &Server{
		runner:       d.Runner,
		caches:       d.Caches,
		protocolSpec: d.ProtocolSpec,
		logger:       d.Logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kansoku",
		d.Version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// collector is a scenario.Sender that keeps every message in send order.
type collector struct {
	mu   sync.Mutex
	msgs []any
}

func (c *collector) Send(_ context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
