package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/foldermcp/internal/errors"
)

// RequestHandler handles incoming RPC requests against one daemon's set of
// registered folders.
type RequestHandler interface {
	GetStatus() StatusResult
	ListFolders(ctx context.Context) (ListFoldersResult, error)
	ListDocuments(ctx context.Context, params ListDocumentsParams) (ListDocumentsResult, error)
	SearchDocs(ctx context.Context, params SearchDocsParams) (SearchDocsResult, error)
	SearchChunks(ctx context.Context, params SearchDocsParams) (SearchChunksResult, error)
	GetDocMetadata(ctx context.Context, params DocParams) (DocMetadataResult, error)
	DownloadDoc(ctx context.Context, params DocParams) (DownloadDocResult, error)
	GetChunks(ctx context.Context, params GetChunksParams) (GetChunksResult, error)
	GetDocSummary(ctx context.Context, params DocParams) (DocSummaryResult, error)
	BatchDocSummary(ctx context.Context, params BatchDocSummaryParams) (BatchDocSummaryResult, error)
	IngestStatus(ctx context.Context, params FolderParams) (IngestStatusResult, error)
	RefreshDoc(ctx context.Context, params DocParams) error
	GetEmbedding(ctx context.Context, params GetEmbeddingParams) (GetEmbeddingResult, error)
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    RequestHandler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
func NewServer(socketPath string) (*Server, error) {
	return &Server{socketPath: socketPath}, nil
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon server listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		slog.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request to the appropriate handler method.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})
	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())
	}

	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no request handler configured")
	}

	switch req.Method {
	case MethodListFolders:
		result, err := s.handler.ListFolders(ctx)
		return respond(req.ID, result, err, ErrCodeInternalError)

	case MethodListDocuments:
		var params ListDocumentsParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.ListDocuments(ctx, params)
		return respond(req.ID, result, err, ErrCodeFolderNotFound)

	case MethodSearchDocs:
		var params SearchDocsParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.SearchDocs(ctx, params)
		return respond(req.ID, result, err, ErrCodeSearchFailed)

	case MethodSearchChunks:
		var params SearchDocsParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.SearchChunks(ctx, params)
		return respond(req.ID, result, err, ErrCodeSearchFailed)

	case MethodGetDocMetadata:
		var params DocParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.GetDocMetadata(ctx, params)
		return respond(req.ID, result, err, ErrCodeDocNotFound)

	case MethodDownloadDoc:
		var params DocParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.DownloadDoc(ctx, params)
		return respond(req.ID, result, err, ErrCodeDocNotFound)

	case MethodGetChunks:
		var params GetChunksParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.GetChunks(ctx, params)
		return respond(req.ID, result, err, ErrCodeDocNotFound)

	case MethodGetDocSummary:
		var params DocParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.GetDocSummary(ctx, params)
		return respond(req.ID, result, err, ErrCodeDocNotFound)

	case MethodBatchDocSummary:
		var params BatchDocSummaryParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.BatchDocSummary(ctx, params)
		return respond(req.ID, result, err, ErrCodeDocNotFound)

	case MethodIngestStatus:
		var params FolderParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.IngestStatus(ctx, params)
		return respond(req.ID, result, err, ErrCodeFolderNotFound)

	case MethodRefreshDoc:
		var params DocParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		if err := s.handler.RefreshDoc(ctx, params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeDocNotFound, err.Error())
		}
		return NewSuccessResponse(req.ID, struct{}{})

	case MethodGetEmbedding:
		var params GetEmbeddingParams
		if err := decodeParams(req, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.GetEmbedding(ctx, params)
		return respond(req.ID, result, err, ErrCodeEmbedFailed)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// decodeParams re-marshals req.Params (decoded as any by the outer envelope)
// into a concrete params struct and validates it.
func decodeParams(req Request, out interface{ Validate() error }) error {
	data, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return out.Validate()
}

// respond wraps a handler result as a success response, or an error response
// using errCode when the handler failed. Validation failures raised below
// the handler (e.g. by the search engine) keep their invalid-params code
// instead of being misreported under errCode.
func respond(id string, result any, err error, errCode int) Response {
	if err != nil {
		if amerrors.HasKind(err, amerrors.KindValidationFailed) {
			return NewErrorResponse(id, ErrCodeInvalidParams, err.Error())
		}
		return NewErrorResponse(id, errCode, err.Error())
	}
	return NewSuccessResponse(id, result)
}

// getStatus returns the current server status, delegating to the handler
// when one is configured.
func (s *Server) getStatus() StatusResult {
	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		EmbedderType:   "",
		EmbedderStatus: "unavailable",
	}

	if s.handler != nil {
		status = s.handler.GetStatus()
	}

	return status
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
