package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/studybuddy/rag-server/internal/rag"
)

// Server wraps the MCP server with its retrieval pipeline.
type Server struct {
	server   *mcp.Server
	pipeline *rag.Pipeline
}

// Config holds server dependencies.
type Config struct {
	Pipeline *rag.Pipeline
}

// NewServer creates a configured MCP server with all retrieval tools
// registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "studybuddy-rag-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_materials",
		Description: "Semantic search over ingested course materials. Returns scored text fragments with source citations.",
	}, makeSearchHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from course materials using retrieval-augmented generation. Returns the answer, cited sources and a confidence score.",
	}, makeAskHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_documents",
		Description: "Insert text fragments with source metadata into a collection's vector index.",
	}, makeAddDocumentsHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_collection",
		Description: "Delete a collection's vector index and metadata. Idempotent.",
	}, makeDeleteCollectionHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_stats",
		Description: "Get fragment counts, dimension and importance statistics for a collection.",
	}, makeStatsHandler(cfg.Pipeline))

	return &Server{
		server:   server,
		pipeline: cfg.Pipeline,
	}
}

// Run starts the server with stdio transport (blocks until the client
// disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance for transport
// handlers that need to wrap it.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
