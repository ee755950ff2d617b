package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/foldermcp/internal/daemon"
)

// ListFoldersInput takes no arguments.
type ListFoldersInput struct{}

func (s *Server) handleListFolders(ctx context.Context, _ *mcp.CallToolRequest, _ ListFoldersInput) (
	*mcp.CallToolResult, daemon.ListFoldersResult, error,
) {
	result, err := s.handler.ListFolders(ctx)
	if err != nil {
		return nil, daemon.ListFoldersResult{}, MapError(err)
	}
	return nil, result, nil
}

// ListDocumentsInput are the parameters for list_documents_in_folder.
type ListDocumentsInput struct {
	FolderPath string `json:"folder_path" jsonschema:"absolute path of a registered folder"`
	Cursor     string `json:"cursor,omitempty" jsonschema:"continuation cursor from a previous call"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of documents to return"`
}

func (s *Server) handleListDocuments(ctx context.Context, _ *mcp.CallToolRequest, in ListDocumentsInput) (
	*mcp.CallToolResult, daemon.ListDocumentsResult, error,
) {
	params := daemon.ListDocumentsParams{FolderPath: in.FolderPath, Cursor: in.Cursor, Limit: in.Limit}
	if err := params.Validate(); err != nil {
		return nil, daemon.ListDocumentsResult{}, MapError(err)
	}
	result, err := s.handler.ListDocuments(ctx, params)
	if err != nil {
		return nil, daemon.ListDocumentsResult{}, MapError(err)
	}
	return nil, result, nil
}

// SearchInput are the parameters shared by search_docs and search_chunks.
type SearchInput struct {
	FolderPath string            `json:"folder_path" jsonschema:"absolute path of a registered folder"`
	Query      string            `json:"query" jsonschema:"the search query text"`
	K          int               `json:"k" jsonschema:"maximum number of results, must be positive"`
	Filters    map[string]string `json:"filters,omitempty" jsonschema:"optional metadata filters"`
}

func (in SearchInput) toParams() daemon.SearchDocsParams {
	return daemon.SearchDocsParams{FolderPath: in.FolderPath, Query: in.Query, K: in.K, Filters: in.Filters}
}

func (s *Server) handleSearchDocs(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult, daemon.SearchDocsResult, error,
) {
	params := in.toParams()
	if err := params.Validate(); err != nil {
		return nil, daemon.SearchDocsResult{}, MapError(err)
	}
	result, err := s.handler.SearchDocs(ctx, params)
	if err != nil {
		return nil, daemon.SearchDocsResult{}, MapError(err)
	}
	return nil, result, nil
}

func (s *Server) handleSearchChunks(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult, daemon.SearchChunksResult, error,
) {
	params := in.toParams()
	if err := params.Validate(); err != nil {
		return nil, daemon.SearchChunksResult{}, MapError(err)
	}
	result, err := s.handler.SearchChunks(ctx, params)
	if err != nil {
		return nil, daemon.SearchChunksResult{}, MapError(err)
	}
	return nil, result, nil
}

// DocInput identifies a single document, used by get_doc_metadata,
// download_doc, get_doc_summary, and refresh_doc.
type DocInput struct {
	FolderPath string `json:"folder_path" jsonschema:"absolute path of a registered folder"`
	DocID      string `json:"doc_id" jsonschema:"document id as returned by list_documents_in_folder"`
}

func (in DocInput) toParams() daemon.DocParams {
	return daemon.DocParams{FolderPath: in.FolderPath, DocID: in.DocID}
}

func (s *Server) handleGetDocMetadata(ctx context.Context, _ *mcp.CallToolRequest, in DocInput) (
	*mcp.CallToolResult, daemon.DocMetadataResult, error,
) {
	params := in.toParams()
	if err := params.Validate(); err != nil {
		return nil, daemon.DocMetadataResult{}, MapError(err)
	}
	result, err := s.handler.GetDocMetadata(ctx, params)
	if err != nil {
		return nil, daemon.DocMetadataResult{}, MapError(err)
	}
	return nil, result, nil
}

func (s *Server) handleDownloadDoc(ctx context.Context, _ *mcp.CallToolRequest, in DocInput) (
	*mcp.CallToolResult, daemon.DownloadDocResult, error,
) {
	params := in.toParams()
	if err := params.Validate(); err != nil {
		return nil, daemon.DownloadDocResult{}, MapError(err)
	}
	result, err := s.handler.DownloadDoc(ctx, params)
	if err != nil {
		return nil, daemon.DownloadDocResult{}, MapError(err)
	}
	return nil, result, nil
}

func (s *Server) handleGetDocSummary(ctx context.Context, _ *mcp.CallToolRequest, in DocInput) (
	*mcp.CallToolResult, daemon.DocSummaryResult, error,
) {
	params := in.toParams()
	if err := params.Validate(); err != nil {
		return nil, daemon.DocSummaryResult{}, MapError(err)
	}
	result, err := s.handler.GetDocSummary(ctx, params)
	if err != nil {
		return nil, daemon.DocSummaryResult{}, MapError(err)
	}
	return nil, result, nil
}

// RefreshDocOutput is empty: refresh_doc reports success only via the
// absence of an error.
type RefreshDocOutput struct{}

func (s *Server) handleRefreshDoc(ctx context.Context, _ *mcp.CallToolRequest, in DocInput) (
	*mcp.CallToolResult, RefreshDocOutput, error,
) {
	params := in.toParams()
	if err := params.Validate(); err != nil {
		return nil, RefreshDocOutput{}, MapError(err)
	}
	if err := s.handler.RefreshDoc(ctx, params); err != nil {
		return nil, RefreshDocOutput{}, MapError(err)
	}
	return nil, RefreshDocOutput{}, nil
}

// GetChunksInput are the parameters for get_chunks. Start/End select an
// inclusive ordinal range, both zero meaning the whole document.
type GetChunksInput struct {
	FolderPath string `json:"folder_path" jsonschema:"absolute path of a registered folder"`
	DocID      string `json:"doc_id" jsonschema:"document id as returned by list_documents_in_folder"`
	Start      int    `json:"start,omitempty" jsonschema:"first chunk ordinal to return, inclusive"`
	End        int    `json:"end,omitempty" jsonschema:"last chunk ordinal to return, inclusive"`
}

func (s *Server) handleGetChunks(ctx context.Context, _ *mcp.CallToolRequest, in GetChunksInput) (
	*mcp.CallToolResult, daemon.GetChunksResult, error,
) {
	params := daemon.GetChunksParams{FolderPath: in.FolderPath, DocID: in.DocID, Start: in.Start, End: in.End}
	if err := params.Validate(); err != nil {
		return nil, daemon.GetChunksResult{}, MapError(err)
	}
	result, err := s.handler.GetChunks(ctx, params)
	if err != nil {
		return nil, daemon.GetChunksResult{}, MapError(err)
	}
	return nil, result, nil
}

// BatchDocSummaryInput are the parameters for batch_doc_summary.
type BatchDocSummaryInput struct {
	FolderPath string   `json:"folder_path" jsonschema:"absolute path of a registered folder"`
	DocIDs     []string `json:"doc_ids" jsonschema:"document ids to summarize"`
}

func (s *Server) handleBatchDocSummary(ctx context.Context, _ *mcp.CallToolRequest, in BatchDocSummaryInput) (
	*mcp.CallToolResult, daemon.BatchDocSummaryResult, error,
) {
	params := daemon.BatchDocSummaryParams{FolderPath: in.FolderPath, DocIDs: in.DocIDs}
	if err := params.Validate(); err != nil {
		return nil, daemon.BatchDocSummaryResult{}, MapError(err)
	}
	result, err := s.handler.BatchDocSummary(ctx, params)
	if err != nil {
		return nil, daemon.BatchDocSummaryResult{}, MapError(err)
	}
	return nil, result, nil
}

// IngestStatusInput are the parameters for ingest_status.
type IngestStatusInput struct {
	FolderPath string `json:"folder_path" jsonschema:"absolute path of a registered folder"`
}

func (s *Server) handleIngestStatus(ctx context.Context, _ *mcp.CallToolRequest, in IngestStatusInput) (
	*mcp.CallToolResult, daemon.IngestStatusResult, error,
) {
	params := daemon.FolderParams{FolderPath: in.FolderPath}
	if err := params.Validate(); err != nil {
		return nil, daemon.IngestStatusResult{}, MapError(err)
	}
	result, err := s.handler.IngestStatus(ctx, params)
	if err != nil {
		return nil, daemon.IngestStatusResult{}, MapError(err)
	}
	return nil, result, nil
}

// GetEmbeddingInput are the parameters for get_embedding.
type GetEmbeddingInput struct {
	FolderPath string `json:"folder_path" jsonschema:"absolute path of a registered folder, selects which embedder to use"`
	Text       string `json:"text" jsonschema:"text to embed"`
}

func (s *Server) handleGetEmbedding(ctx context.Context, _ *mcp.CallToolRequest, in GetEmbeddingInput) (
	*mcp.CallToolResult, daemon.GetEmbeddingResult, error,
) {
	params := daemon.GetEmbeddingParams{FolderPath: in.FolderPath, Text: in.Text}
	if err := params.Validate(); err != nil {
		return nil, daemon.GetEmbeddingResult{}, MapError(err)
	}
	result, err := s.handler.GetEmbedding(ctx, params)
	if err != nil {
		return nil, daemon.GetEmbeddingResult{}, MapError(err)
	}
	return nil, result, nil
}
