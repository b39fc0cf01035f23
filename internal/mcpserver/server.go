// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes quill's routes and pages to agents over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/site"
	"github.com/starford/quill/internal/store"
)

const contractURI = "quill://page-format"

// Pages is the artifact cache.
type Pages interface {
	Get(ctx context.Context, route string) (store.Result, error)
	Invalidate(route string)
	InvalidateAll()
}

// Catalog lists and searches the site.
type Catalog interface {
	Routes() []string
	Source(route string) (string, bool)
	Search(query string, limit int) ([]index.SearchResult, error)
}

// Server wraps the MCP server with quill tools.
type Server struct {
	mcp     *server.MCPServer
	pages   Pages
	catalog Catalog
}

// New creates a new MCP server with all tools registered.
func New(pages Pages, catalog Catalog, version string) *Server {
	s := &Server{pages: pages, catalog: catalog}

	s.mcp = server.NewMCPServer(
		"Quill",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_routes",
		mcp.WithDescription("List every route the site serves, sorted."),
		mcp.WithString("prefix", mcp.Description("Optional route prefix filter, e.g. /posts")),
	), s.listRoutes)

	s.mcp.AddTool(mcp.NewTool("render_page",
		mcp.WithDescription("Render a route and return its output with render status. "+
			"A stale page is returned as-is and refreshed in the background."),
		mcp.WithString("route", mcp.Required(), mcp.Description("Route to render, e.g. /posts/hello")),
	), s.renderPage)

	s.mcp.AddTool(mcp.NewTool("search_pages",
		mcp.WithDescription("Search page titles and text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchPages)

	s.mcp.AddTool(mcp.NewTool("invalidate_route",
		mcp.WithDescription("Mark a route stale so the next request re-renders it. "+
			"An empty route invalidates the whole site."),
		mcp.WithString("route", mcp.Description("Route to invalidate; empty for all")),
	), s.invalidateRoute)

	s.mcp.AddTool(mcp.NewTool("get_page_contract",
		mcp.WithDescription("Returns the content file format quill renders. "+
			"Read it before writing pages into the content tree."),
	), s.getPageContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Page Format",
			mcp.WithResourceDescription("Content file format: front-matter keys, routes, collections."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPageFormatResource,
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

func (s *Server) listRoutes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := req.GetString("prefix", "")
	var out []string
	for _, r := range s.catalog.Routes() {
		if prefix == "" || strings.HasPrefix(r, site.NormalizeRoute(prefix)) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return mcp.NewToolResultText("no routes"), nil
	}
	return mcp.NewToolResultText(strings.Join(out, "\n")), nil
}

type renderResult struct {
	Route       string `json:"route"`
	Source      string `json:"source,omitempty"`
	Freshness   string `json:"freshness"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"content_hash"`
	Error       string `json:"error,omitempty"`
	Body        string `json:"body"`
}

func (s *Server) renderPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("route")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	route := site.NormalizeRoute(raw)

	res, err := s.pages.Get(ctx, route)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	switch res.Outcome {
	case store.OutcomeNotFound:
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", route)), nil
	case store.OutcomeFailed:
		return mcp.NewToolResultError(fmt.Sprintf("render failed: %s: %v", route, res.Err)), nil
	}

	out := renderResult{
		Route:       route,
		Freshness:   res.Freshness.String(),
		ContentType: res.Artifact.ContentType,
		ContentHash: res.Artifact.ContentHash,
		Body:        string(res.Artifact.Body),
	}
	if src, ok := s.catalog.Source(route); ok {
		out.Source = src
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) searchPages(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.catalog.Search(query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) invalidateRoute(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetString("route", "")
	if raw == "" {
		s.pages.InvalidateAll()
		return mcp.NewToolResultText("invalidated: *"), nil
	}
	route := site.NormalizeRoute(raw)
	s.pages.Invalidate(route)
	return mcp.NewToolResultText("invalidated: " + route), nil
}

func (s *Server) getPageContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readPageFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}
