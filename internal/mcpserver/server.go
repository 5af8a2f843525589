// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes MedVault tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ostrander/medvault/internal/apperr"
	"github.com/ostrander/medvault/internal/ledger"
	"github.com/ostrander/medvault/internal/models"
	"github.com/ostrander/medvault/internal/recordservice"
)

// Identity resolves the active wallet address.
type Identity interface {
	Current() (string, error)
}

// Server wraps the MCP server with MedVault tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *recordservice.Service
	ident Identity
}

// New creates a new MCP server with all MedVault tools registered.
func New(svc *recordservice.Service, ident Identity) *Server {
	s := &Server{svc: svc, ident: ident}

	s.mcp = server.NewMCPServer(
		"MedVault",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List the connected identity's records, newest first."),
		mcp.WithString("query", mcp.Description("Optional substring match on name or category")),
		mcp.WithString("category", mcp.Description("Optional exact category filter")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Read one record's metadata, including its current grantees."),
		mcp.WithString("record_id", mcp.Required(), mcp.Description("Record id")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("grant_access",
		mcp.WithDescription("Grant a provider address access to a record. "+
			"The grantee must be an Ethereum address (0x followed by 40 hex characters)."),
		mcp.WithString("record_id", mcp.Required(), mcp.Description("Record id")),
		mcp.WithString("grantee", mcp.Required(), mcp.Description("Provider address to grant")),
	), s.grantAccess)

	s.mcp.AddTool(mcp.NewTool("revoke_access",
		mcp.WithDescription("Revoke a provider address's access to a record."),
		mcp.WithString("record_id", mcp.Required(), mcp.Description("Record id")),
		mcp.WithString("grantee", mcp.Required(), mcp.Description("Provider address to revoke")),
	), s.revokeAccess)

	s.mcp.AddTool(mcp.NewTool("chain_access",
		mcp.WithDescription("Check the on-chain access registry for a record: whether a "+
			"grantee currently holds access and how many grants the record's content has."),
		mcp.WithString("record_id", mcp.Required(), mcp.Description("Record id")),
		mcp.WithString("grantee", mcp.Required(), mcp.Description("Provider address to check")),
	), s.chainAccess)

	s.mcp.AddTool(mcp.NewTool("shared_with_me",
		mcp.WithDescription("List records other owners have shared with the connected identity."),
	), s.sharedWithMe)

	s.mcp.AddTool(mcp.NewTool("audit_trail",
		mcp.WithDescription("List the connected identity's audit trail, most recent first."),
		mcp.WithNumber("limit", mcp.Description("Max entries to return (0 for all)")),
	), s.auditTrail)

	// Resource: valid record categories.
	s.mcp.AddResource(
		mcp.NewResource("medvault://categories", "Record Categories",
			mcp.WithResourceDescription("Valid categories for uploaded records."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readCategoriesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) actor() (string, error) {
	addr, err := s.ident.Current()
	if err != nil {
		return "", fmt.Errorf("wallet not connected")
	}
	return addr, nil
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, err := s.actor()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filter := ledger.RecordFilter{
		Query:    req.GetString("query", ""),
		Category: req.GetString("category", ""),
	}
	records, err := s.svc.List(ctx, actor, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(records, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, err := s.actor()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("record_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.Get(ctx, actor, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) grantAccess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, err := s.actor()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("record_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	grantee, err := req.RequireString("grantee")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.svc.Grant(ctx, actor, id, grantee)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("granted %s access to %s", grantee, rec.Name)), nil
}

func (s *Server) revokeAccess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, err := s.actor()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("record_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	grantee, err := req.RequireString("grantee")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.svc.Revoke(ctx, actor, id, grantee)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("revoked %s access to %s", grantee, rec.Name)), nil
}

func (s *Server) chainAccess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, err := s.actor()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("record_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	grantee, err := req.RequireString("grantee")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status, err := s.svc.ChainAccess(ctx, actor, actor, id, grantee)
	if err != nil {
		if errors.Is(err, apperr.ErrMirrorDisabled) {
			return mcp.NewToolResultError("chain mirror disabled"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(status, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) sharedWithMe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, err := s.actor()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	shared, err := s.svc.SharedWith(ctx, actor)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(shared) == 0 {
		return mcp.NewToolResultText("no records shared with you"), nil
	}
	out, _ := json.MarshalIndent(shared, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) auditTrail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, err := s.actor()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 0)
	entries, err := s.svc.Audit(ctx, actor, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(entries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readCategoriesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "medvault://categories",
			MIMEType: "text/plain",
			Text:     strings.Join(models.Categories, "\n"),
		},
	}, nil
}
