// Package daemon implements the long-running folder-mcp process: it keeps
// one embedder and a set of registered folders' index state loaded in
// memory, and serves document operations to CLI and MCP clients over a
// Unix domain socket.
package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/foldermcp/internal/chunk"
	"github.com/Aman-CERP/foldermcp/internal/embed"
	"github.com/Aman-CERP/foldermcp/internal/fmdm"
	index "github.com/Aman-CERP/foldermcp/internal/indexing"
	"github.com/Aman-CERP/foldermcp/internal/lifecycle"
	"github.com/Aman-CERP/foldermcp/internal/resource"
	"github.com/Aman-CERP/foldermcp/internal/scanner"
	"github.com/Aman-CERP/foldermcp/internal/search"
	"github.com/Aman-CERP/foldermcp/internal/store"
)

// dataDirName is the per-folder directory that holds the folder's index.
const dataDirName = ".folder-mcp"

// summaryChars bounds the best-effort summary built from a document's
// leading chunk, since no dedicated summarization model is wired in.
const summaryChars = 400

// folderState is one registered folder's loaded index: its metadata and
// vector stores, the search engine over them, and the coordinator that
// keeps them in sync with the filesystem.
type folderState struct {
	id         string
	path       string
	vectorPath string
	metadata   store.MetadataStore
	vectors    store.VectorStore
	search     *search.Engine
	coord      *index.Coordinator
	orch       *lifecycle.Orchestrator
	loadedAt   time.Time
	lastUsed   time.Time
}

// Close persists the vector index and releases the folder's open stores.
// Safe to call on a zero-value folderState (e.g. in tests) since nil
// stores are simply skipped.
func (p *folderState) Close() error {
	var firstErr error
	if p.vectors != nil {
		if p.vectorPath != "" {
			if err := p.vectors.Save(p.vectorPath); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := p.vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.metadata != nil {
		if err := p.metadata.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Daemon is the background service: it owns the embedder, the set of
// registered folders, and the socket server that answers RPC requests
// against them.
type Daemon struct {
	config Config

	mu       sync.Mutex
	folders  map[string]*folderState
	embedder embed.Embedder
	started  time.Time

	fmdmBus   *fmdm.Bus
	resources *resource.Manager
	scanner   *scanner.Scanner
	textChunk *chunk.TextChunker
	mdChunk   *chunk.MarkdownChunker

	server  *Server
	pidFile *PIDFile
}

// Option customizes a Daemon at construction time.
type Option func(*Daemon)

// WithEmbedder installs the embedder the daemon uses for indexing and
// search across all registered folders.
func WithEmbedder(e embed.Embedder) Option {
	return func(d *Daemon) { d.embedder = e }
}

// NewDaemon validates cfg and constructs a Daemon. Folders are registered
// later via RegisterFolder, typically driven by --folder flags or a
// persisted FMDM snapshot.
func NewDaemon(cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("invalid config: create scanner: %w", err)
	}

	d := &Daemon{
		config:    cfg,
		folders:   make(map[string]*folderState),
		fmdmBus:   fmdm.New(fmdm.DefaultPersistPath(filepath.Dir(cfg.SocketPath))),
		resources: resource.New(2, 100),
		scanner:   sc,
		textChunk: chunk.NewTextChunker(),
		mdChunk:   chunk.NewMarkdownChunker(),
		pidFile:   NewPIDFile(cfg.PIDPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start writes the PID file, opens the socket server, and blocks serving
// requests until ctx is cancelled. It returns ctx.Err() on a clean shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.config.EnsureDir(); err != nil {
		return err
	}
	if d.pidFile.IsRunning() {
		return fmt.Errorf("daemon already running")
	}
	_ = d.pidFile.Remove()
	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()

	server, err := NewServer(d.config.SocketPath)
	if err != nil {
		return err
	}
	server.SetHandler(d)
	d.server = server

	err = server.ListenAndServe(ctx)
	d.cleanup()
	return err
}

// cleanup closes every loaded folder and forgets the embedder, used when the
// daemon is shutting down.
func (d *Daemon) cleanup() {
	// Drain in-flight folder operations before tearing down their stores.
	d.resources.Shutdown(false)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fs := range d.folders {
		if err := fs.Close(); err != nil {
			slog.Warn("daemon: error closing folder", slog.String("path", fs.path), slog.String("error", err.Error()))
		}
	}
	d.folders = make(map[string]*folderState)
	d.embedder = nil
}

// evictLRU closes and forgets the least-recently-used folders once the
// loaded count exceeds MaxFolders. Caller must hold d.mu.
func (d *Daemon) evictLRU() {
	for len(d.folders) > d.config.MaxFolders {
		var oldestPath string
		var oldest time.Time
		first := true
		for p, fs := range d.folders {
			if first || fs.lastUsed.Before(oldest) {
				oldest = fs.lastUsed
				oldestPath = p
				first = false
			}
		}
		if oldestPath == "" {
			return
		}
		if fs, ok := d.folders[oldestPath]; ok {
			if err := fs.Close(); err != nil {
				slog.Warn("daemon: error evicting folder", slog.String("path", oldestPath), slog.String("error", err.Error()))
			}
		}
		delete(d.folders, oldestPath)
	}
}

// FMDM exposes the daemon's folder snapshot bus so a UI (or another
// in-process consumer) can subscribe to lifecycle updates.
func (d *Daemon) FMDM() *fmdm.Bus {
	return d.fmdmBus
}

// GetStatus reports the daemon's current state.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(d.started).Round(time.Second).String(),
		EmbedderStatus: "unavailable",
		FoldersLoaded:  len(d.folders),
	}
	if d.embedder != nil {
		status.EmbedderType = d.embedder.ModelName()
		status.EmbedderStatus = "ready"
	}
	return status
}

// folderID derives the stable id store.Folder uses for an absolute path.
func folderID(absPath string) string {
	return hashAbsPath(absPath)
}

// loadFolder returns the folderState for absPath, opening and registering
// its stores on first use and evicting the least-recently-used folder if
// MaxFolders is now exceeded.
func (d *Daemon) loadFolder(ctx context.Context, rootPath string) (*folderState, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve folder path: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if fs, ok := d.folders[abs]; ok {
		fs.lastUsed = time.Now()
		return fs, nil
	}

	if d.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	dataDir := filepath.Join(abs, dataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create folder data dir: %w", err)
	}

	metadata, err := store.NewSQLiteStore(ctx, store.DefaultSQLiteStoreConfig(filepath.Join(dataDir, "embeddings.db")))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	// A folder indexed under a different model or dimension must not be
	// opened: mixing vectors from two models silently corrupts ranking.
	// The mismatch is surfaced as a distinct fatal error instead.
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if storedModel, _, err := metadata.GetEmbeddingConfig(ctx); err == nil &&
		storedModel != "" && storedModel != d.embedder.ModelName() {
		_ = metadata.Close()
		return nil, store.ErrModelMismatch{Expected: storedModel, Got: d.embedder.ModelName()}
	}
	if storedDims, err := store.ReadHNSWStoreDimensions(vectorPath); err == nil &&
		storedDims != 0 && storedDims != d.embedder.Dimensions() {
		_ = metadata.Close()
		return nil, store.ErrDimensionMismatch{Expected: storedDims, Got: d.embedder.Dimensions()}
	}

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(d.embedder.Dimensions()))
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vectors.Load(vectorPath); err != nil {
			slog.Warn("daemon: failed to load vector index, starting empty",
				slog.String("path", abs), slog.String("error", err.Error()))
		}
	}

	engine, err := search.New(vectors, metadata, d.embedder)
	if err != nil {
		_ = vectors.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("create search engine: %w", err)
	}

	id := folderID(abs)
	if err := metadata.SaveFolder(ctx, &store.Folder{ID: id, Path: abs}); err != nil {
		slog.Warn("daemon: failed to save folder record", slog.String("error", err.Error()))
	}

	coord := index.New(index.CoordinatorConfig{
		FolderID:        id,
		RootPath:        abs,
		Search:          engine,
		Metadata:        metadata,
		TextChunker:     d.textChunk,
		MarkdownChunker: d.mdChunk,
		Scanner:         d.scanner,
	})

	fs := &folderState{
		id:         id,
		path:       abs,
		vectorPath: vectorPath,
		metadata:   metadata,
		vectors:    vectors,
		search:     engine,
		coord:      coord,
		orch:       lifecycle.New(abs),
		loadedAt:   time.Now(),
		lastUsed:   time.Now(),
	}
	d.folders[abs] = fs
	d.fmdmBus.AddFolder(fmdm.FolderView{Path: abs, Status: "pending"})
	d.evictLRU()
	return fs, nil
}

// RegisterFolder loads a folder's stores and runs an initial reconciliation
// scan against the filesystem, bringing its index up to date.
func (d *Daemon) RegisterFolder(ctx context.Context, rootPath string) error {
	fs, err := d.loadFolder(ctx, rootPath)
	if err != nil {
		return err
	}
	_ = fs.orch.StartScanning()
	// The reconciliation scan runs as a resource-managed operation so
	// registering many folders at once still respects the process-wide
	// concurrency budget.
	err = d.resources.Submit(ctx, "reconcile:"+fs.path, resource.PriorityNormal, func(opCtx context.Context) error {
		return fs.coord.ReconcileOnStartup(opCtx)
	})
	if err != nil {
		_ = fs.orch.ScanFailed(err.Error())
		d.fmdmBus.UpdateFolderError(fs.path, err.Error())
		return fmt.Errorf("reconcile folder %s: %w", rootPath, err)
	}
	if err := fs.vectors.Save(fs.vectorPath); err != nil {
		slog.Warn("daemon: failed to persist vector index",
			slog.String("path", fs.path), slog.String("error", err.Error()))
	}
	d.fmdmBus.UpdateFolderStatus(fs.path, "active")
	return nil
}

// ListFolders implements RequestHandler.
func (d *Daemon) ListFolders(ctx context.Context) (ListFoldersResult, error) {
	d.mu.Lock()
	paths := make([]string, 0, len(d.folders))
	for p := range d.folders {
		paths = append(paths, p)
	}
	d.mu.Unlock()
	sort.Strings(paths)

	result := ListFoldersResult{Folders: make([]FolderInfo, 0, len(paths))}
	for _, p := range paths {
		fs, err := d.loadFolder(ctx, p)
		if err != nil {
			continue
		}
		folder, err := fs.metadata.GetFolder(ctx, fs.id)
		info := FolderInfo{Path: fs.path, Status: "active"}
		if err == nil && folder != nil {
			info.DocCount = folder.DocCount
			info.ChunkCount = folder.ChunkCount
			if !folder.IndexedAt.IsZero() {
				info.IndexedAt = folder.IndexedAt.Format(time.RFC3339)
			}
		}
		result.Folders = append(result.Folders, info)
	}
	return result, nil
}

// ListDocuments implements RequestHandler.
func (d *Daemon) ListDocuments(ctx context.Context, params ListDocumentsParams) (ListDocumentsResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return ListDocumentsResult{}, err
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	docs, cursor, err := fs.metadata.ListDocuments(ctx, fs.id, params.Cursor, limit)
	if err != nil {
		return ListDocumentsResult{}, fmt.Errorf("list documents: %w", err)
	}
	result := ListDocumentsResult{Continuation: cursor, Documents: make([]DocumentInfo, len(docs))}
	for i, doc := range docs {
		result.Documents[i] = toDocumentInfo(doc)
	}
	return result, nil
}

// SearchDocs implements RequestHandler: it runs a chunk search and collapses
// results to their best-scoring document.
func (d *Daemon) SearchDocs(ctx context.Context, params SearchDocsParams) (SearchDocsResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return SearchDocsResult{}, err
	}

	hits, err := fs.search.Search(ctx, params.Query, search.Options{Limit: params.K})
	if err != nil {
		return SearchDocsResult{}, fmt.Errorf("search: %w", err)
	}

	seen := make(map[string]bool, len(hits))
	result := SearchDocsResult{}
	for _, h := range hits {
		if h.Document == nil || seen[h.Document.ID] {
			continue
		}
		seen[h.Document.ID] = true
		result.Results = append(result.Results, DocSearchHit{
			DocumentID: h.Document.ID,
			Path:       h.Document.Path,
			Title:      h.Document.Title,
			Score:      h.Score,
			Snippet:    truncate(h.Chunk.Content, summaryChars),
		})
	}
	return result, nil
}

// SearchChunks implements RequestHandler: chunk-level search results.
func (d *Daemon) SearchChunks(ctx context.Context, params SearchDocsParams) (SearchChunksResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return SearchChunksResult{}, err
	}

	hits, err := fs.search.Search(ctx, params.Query, search.Options{Limit: params.K})
	if err != nil {
		return SearchChunksResult{}, fmt.Errorf("search: %w", err)
	}

	result := SearchChunksResult{Results: make([]ChunkSearchHit, 0, len(hits))}
	for _, h := range hits {
		path := ""
		if h.Document != nil {
			path = h.Document.Path
		}
		result.Results = append(result.Results, ChunkSearchHit{
			ChunkID:    h.Chunk.ID,
			DocumentID: h.Chunk.DocumentID,
			Path:       path,
			Score:      h.Score,
			Content:    h.Chunk.Content,
			Ordinal:    h.Chunk.Ordinal,
		})
	}
	return result, nil
}

// GetDocMetadata implements RequestHandler.
func (d *Daemon) GetDocMetadata(ctx context.Context, params DocParams) (DocMetadataResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return DocMetadataResult{}, err
	}
	doc, err := fs.metadata.GetDocument(ctx, params.DocID)
	if err != nil || doc == nil {
		return DocMetadataResult{}, fmt.Errorf("document not found: %s", params.DocID)
	}
	return DocMetadataResult{
		ID:          doc.ID,
		Path:        doc.Path,
		Size:        doc.Size,
		ContentType: string(doc.ContentType),
		ContentHash: doc.ContentHash,
		Title:       doc.Title,
		IndexedAt:   doc.IndexedAt.Format(time.RFC3339),
	}, nil
}

// DownloadDoc implements RequestHandler: it reads the document's current
// bytes directly from the folder, identified by the document's recorded
// relative path.
func (d *Daemon) DownloadDoc(ctx context.Context, params DocParams) (DownloadDocResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return DownloadDocResult{}, err
	}
	doc, err := fs.metadata.GetDocument(ctx, params.DocID)
	if err != nil || doc == nil {
		return DownloadDocResult{}, fmt.Errorf("document not found: %s", params.DocID)
	}
	data, err := os.ReadFile(filepath.Join(fs.path, doc.Path))
	if err != nil {
		return DownloadDocResult{}, fmt.Errorf("read document: %w", err)
	}
	return DownloadDocResult{Path: doc.Path, ContentType: string(doc.ContentType), Content: data}, nil
}

// GetChunks implements RequestHandler.
func (d *Daemon) GetChunks(ctx context.Context, params GetChunksParams) (GetChunksResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return GetChunksResult{}, err
	}
	chunks, err := fs.metadata.GetChunksByDocument(ctx, params.DocID)
	if err != nil {
		return GetChunksResult{}, fmt.Errorf("get chunks: %w", err)
	}

	result := GetChunksResult{}
	for _, c := range chunks {
		if params.End != 0 && (c.Ordinal < params.Start || c.Ordinal > params.End) {
			continue
		}
		if params.End == 0 && params.Start != 0 && c.Ordinal < params.Start {
			continue
		}
		result.Chunks = append(result.Chunks, ChunkInfo{ID: c.ID, Ordinal: c.Ordinal, Content: c.Content})
	}
	return result, nil
}

// GetDocSummary implements RequestHandler with a best-effort summary built
// from the document's first chunk, since no summarization model is wired in.
func (d *Daemon) GetDocSummary(ctx context.Context, params DocParams) (DocSummaryResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return DocSummaryResult{}, err
	}
	doc, err := fs.metadata.GetDocument(ctx, params.DocID)
	if err != nil || doc == nil {
		return DocSummaryResult{}, fmt.Errorf("document not found: %s", params.DocID)
	}
	return DocSummaryResult{ID: doc.ID, Path: doc.Path, Summary: d.summarize(ctx, fs, doc.ID)}, nil
}

// BatchDocSummary implements RequestHandler.
func (d *Daemon) BatchDocSummary(ctx context.Context, params BatchDocSummaryParams) (BatchDocSummaryResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return BatchDocSummaryResult{}, err
	}
	result := BatchDocSummaryResult{Summaries: make([]DocSummaryResult, 0, len(params.DocIDs))}
	for _, id := range params.DocIDs {
		doc, err := fs.metadata.GetDocument(ctx, id)
		if err != nil || doc == nil {
			continue
		}
		result.Summaries = append(result.Summaries, DocSummaryResult{
			ID: doc.ID, Path: doc.Path, Summary: d.summarize(ctx, fs, doc.ID),
		})
	}
	return result, nil
}

func (d *Daemon) summarize(ctx context.Context, fs *folderState, docID string) string {
	chunks, err := fs.metadata.GetChunksByDocument(ctx, docID)
	if err != nil || len(chunks) == 0 {
		return ""
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })
	return truncate(chunks[0].Content, summaryChars)
}

// IngestStatus implements RequestHandler.
func (d *Daemon) IngestStatus(ctx context.Context, params FolderParams) (IngestStatusResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return IngestStatusResult{}, err
	}
	progress := fs.orch.Progress()
	return IngestStatusResult{
		FolderPath: fs.path,
		State:      string(fs.orch.State()),
		Completed:  progress.Completed,
		Total:      progress.Total,
		Error:      fs.orch.ErrorMessage(),
	}, nil
}

// RefreshDoc implements RequestHandler.
func (d *Daemon) RefreshDoc(ctx context.Context, params DocParams) error {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return err
	}
	doc, err := fs.metadata.GetDocument(ctx, params.DocID)
	if err != nil || doc == nil {
		return fmt.Errorf("document not found: %s", params.DocID)
	}
	// Mark first so an interrupted refresh is retried by the next
	// reconciliation even though the content hash hasn't changed.
	if err := fs.metadata.MarkForReindex(ctx, fs.id, doc.Path); err != nil {
		return fmt.Errorf("mark for reindex: %w", err)
	}
	return fs.coord.IndexPath(ctx, doc.Path)
}

// GetEmbedding implements RequestHandler.
func (d *Daemon) GetEmbedding(ctx context.Context, params GetEmbeddingParams) (GetEmbeddingResult, error) {
	fs, err := d.loadFolder(ctx, params.FolderPath)
	if err != nil {
		return GetEmbeddingResult{}, err
	}
	d.mu.Lock()
	embedder := d.embedder
	d.mu.Unlock()
	if embedder == nil {
		return GetEmbeddingResult{}, fmt.Errorf("no embedder configured")
	}
	vec, err := embedder.Embed(ctx, params.Text)
	if err != nil {
		return GetEmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	_ = fs // folder kept loaded for future per-folder embedder overrides
	return GetEmbeddingResult{Vector: vec, Model: embedder.ModelName()}, nil
}

func toDocumentInfo(doc *store.Document) DocumentInfo {
	return DocumentInfo{
		ID:          doc.ID,
		Path:        doc.Path,
		Size:        doc.Size,
		ContentType: string(doc.ContentType),
		Title:       doc.Title,
		IndexedAt:   doc.IndexedAt.Format(time.RFC3339),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// hashAbsPath derives store.Folder.ID's sha256(absolute_path) convention.
func hashAbsPath(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])
}
