package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/model"
)

const (
	uriSessionCurrent = "kansoku://session/current"
	uriCaches         = "kansoku://caches"
	uriProtocol       = "kansoku://protocol"
)

func (s *Server) registerResources() {
	// kansoku://session/current: identity of the caller.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriSessionCurrent,
			"Current Session",
			mcplib.WithResourceDescription("Authenticated identity of the requesting client"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSessionCurrent,
	)

	// kansoku://caches: result cache occupancy.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriCaches,
			"Result Caches",
			mcplib.WithResourceDescription("Size, capacity and hit counts of the scenario and agent result caches"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCaches,
	)

	if len(s.protocolSpec) > 0 {
		s.mcpServer.AddResource(
			mcplib.NewResource(
				uriProtocol,
				"Socket Protocol",
				mcplib.WithResourceDescription("Message schemas and close codes of the scenario websocket"),
				mcplib.WithMIMEType("application/yaml"),
			),
			s.handleProtocol,
		)
	}
}

type sessionInfo struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
}

func (s *Server) handleSessionCurrent(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return nil, fmt.Errorf("mcp: session current: no authenticated caller")
	}
	info := sessionInfo{UserID: claims.Subject, Email: claims.Email}
	if claims.OrgID != nil {
		info.OrgID = claims.OrgID.String()
	}
	return jsonResource(uriSessionCurrent, info)
}

func (s *Server) handleCaches(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	stats := make(map[string]model.CacheStats, len(s.caches))
	for _, c := range s.caches {
		stats[c.Name()] = c.Stats()
	}
	return jsonResource(uriCaches, stats)
}

func (s *Server) handleProtocol(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uriProtocol,
			MIMEType: "application/yaml",
			Text:     string(s.protocolSpec),
		},
	}, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
