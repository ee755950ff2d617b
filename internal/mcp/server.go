// Package mcp implements the Model Context Protocol (MCP) server for
// folder-mcp: a thin stdio adapter that exposes the daemon's document RPC
// surface as MCP tools, one call-site per operation in internal/daemon.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/foldermcp/internal/daemon"
	"github.com/Aman-CERP/foldermcp/pkg/version"
)

// Server bridges MCP tool calls to a daemon.RequestHandler. It never touches
// storage directly; every tool handler forwards straight to the handler,
// exactly like internal/daemon/server.go does for the socket transport.
type Server struct {
	mcp     *mcp.Server
	handler daemon.RequestHandler
	logger  *slog.Logger
}

// NewServer creates an MCP server over handler. handler is typically a
// *daemon.Daemon with its folders already registered.
func NewServer(handler daemon.RequestHandler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("mcp: request handler is required")
	}

	s := &Server{
		handler: handler,
		logger:  slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "foldermcpd",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// Close releases server resources. The SDK server itself has no explicit
// close; it stops when Serve's context is cancelled.
func (s *Server) Close() error {
	return nil
}

// registerTools registers the daemon's document operations as MCP tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_folders",
		Description: "List every folder registered with the daemon and its index state.",
	}, s.handleListFolders)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_documents_in_folder",
		Description: "List the documents indexed in one registered folder.",
	}, s.handleListDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_docs",
		Description: "Search a folder's indexed documents and return the best-matching document per hit.",
	}, s.handleSearchDocs)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_chunks",
		Description: "Search a folder's indexed chunks and return every matching chunk.",
	}, s.handleSearchChunks)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_doc_metadata",
		Description: "Get size, content type, hash, and index time for one document.",
	}, s.handleGetDocMetadata)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "download_doc",
		Description: "Read one document's raw content from disk.",
	}, s.handleDownloadDoc)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_chunks",
		Description: "Get a document's chunks, optionally restricted to an ordinal range.",
	}, s.handleGetChunks)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_doc_summary",
		Description: "Get a best-effort summary for one document.",
	}, s.handleGetDocSummary)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "batch_doc_summary",
		Description: "Get best-effort summaries for a batch of documents in one call.",
	}, s.handleBatchDocSummary)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_status",
		Description: "Get a folder's lifecycle state and indexing progress.",
	}, s.handleIngestStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "refresh_doc",
		Description: "Re-index a single document path immediately.",
	}, s.handleRefreshDoc)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_embedding",
		Description: "Embed arbitrary text with the folder's configured embedder.",
	}, s.handleGetEmbedding)

	s.logger.Debug("MCP tools registered", slog.Int("count", 11))
}
