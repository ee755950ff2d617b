package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client connects to the daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodPing, nil, &result)
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListFolders lists every folder registered with the daemon.
func (c *Client) ListFolders(ctx context.Context) (*ListFoldersResult, error) {
	var result ListFoldersResult
	if err := c.call(ctx, MethodListFolders, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDocuments lists the documents indexed in one folder.
func (c *Client) ListDocuments(ctx context.Context, params ListDocumentsParams) (*ListDocumentsResult, error) {
	var result ListDocumentsResult
	if err := c.call(ctx, MethodListDocuments, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchDocs performs a document-level semantic search.
func (c *Client) SearchDocs(ctx context.Context, params SearchDocsParams) (*SearchDocsResult, error) {
	var result SearchDocsResult
	if err := c.call(ctx, MethodSearchDocs, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchChunks performs a chunk-level semantic search.
func (c *Client) SearchChunks(ctx context.Context, params SearchDocsParams) (*SearchChunksResult, error) {
	var result SearchChunksResult
	if err := c.call(ctx, MethodSearchChunks, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetDocMetadata fetches one document's metadata.
func (c *Client) GetDocMetadata(ctx context.Context, params DocParams) (*DocMetadataResult, error) {
	var result DocMetadataResult
	if err := c.call(ctx, MethodGetDocMetadata, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DownloadDoc fetches one document's raw content.
func (c *Client) DownloadDoc(ctx context.Context, params DocParams) (*DownloadDocResult, error) {
	var result DownloadDocResult
	if err := c.call(ctx, MethodDownloadDoc, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetChunks fetches a range of one document's chunks.
func (c *Client) GetChunks(ctx context.Context, params GetChunksParams) (*GetChunksResult, error) {
	var result GetChunksResult
	if err := c.call(ctx, MethodGetChunks, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetDocSummary fetches a single document's summary.
func (c *Client) GetDocSummary(ctx context.Context, params DocParams) (*DocSummaryResult, error) {
	var result DocSummaryResult
	if err := c.call(ctx, MethodGetDocSummary, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BatchDocSummary fetches summaries for several documents at once.
func (c *Client) BatchDocSummary(ctx context.Context, params BatchDocSummaryParams) (*BatchDocSummaryResult, error) {
	var result BatchDocSummaryResult
	if err := c.call(ctx, MethodBatchDocSummary, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IngestStatus reports a folder's indexing progress.
func (c *Client) IngestStatus(ctx context.Context, params FolderParams) (*IngestStatusResult, error) {
	var result IngestStatusResult
	if err := c.call(ctx, MethodIngestStatus, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RefreshDoc forces re-indexing of a single document.
func (c *Client) RefreshDoc(ctx context.Context, params DocParams) error {
	var result struct{}
	return c.call(ctx, MethodRefreshDoc, params, &result)
}

// GetEmbedding embeds arbitrary text using the folder's configured model.
func (c *Client) GetEmbedding(ctx context.Context, params GetEmbeddingParams) (*GetEmbeddingResult, error) {
	var result GetEmbeddingResult
	if err := c.call(ctx, MethodGetEmbedding, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// call sends one request and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}

	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
