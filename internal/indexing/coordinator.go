// Package index implements the per-folder indexing pipeline: parse changed
// files into chunks, embed them, and persist chunks and vectors. It is
// driven either by a one-time reconciliation scan or by live watcher events.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/foldermcp/internal/chunk"
	amerrors "github.com/Aman-CERP/foldermcp/internal/errors"
	"github.com/Aman-CERP/foldermcp/internal/logging"
	"github.com/Aman-CERP/foldermcp/internal/scanner"
	"github.com/Aman-CERP/foldermcp/internal/search"
	"github.com/Aman-CERP/foldermcp/internal/store"
	"github.com/Aman-CERP/foldermcp/internal/watcher"
)

// DefaultMaxFileSize is the largest file the coordinator will read into
// memory for chunking.
const DefaultMaxFileSize = 50 * 1024 * 1024

// fileRetryConfig is the per-file retry policy: three retries at 1s/2s/4s
// before the file is skipped and the rest of the folder proceeds.
var fileRetryConfig = amerrors.RetryConfig{
	MaxRetries:   3,
	InitialDelay: 1 * time.Second,
	MaxDelay:     4 * time.Second,
	Multiplier:   2.0,
}

// CoordinatorConfig wires the dependencies one folder's indexing pipeline
// needs: a chunker per content type, the search engine that embeds and
// stores vectors, the metadata store for document bookkeeping, and the
// scanner used during reconciliation.
type CoordinatorConfig struct {
	FolderID        string
	RootPath        string
	Search          *search.Engine
	Metadata        store.MetadataStore
	TextChunker     chunk.Chunker
	MarkdownChunker chunk.Chunker
	Scanner         *scanner.Scanner
	ExcludePatterns []string
	MaxFileSize     int64
}

// Coordinator runs the parse -> chunk -> embed -> persist pipeline for one
// folder, in response to watcher events or a reconciliation scan.
type Coordinator struct {
	config CoordinatorConfig
	errLog *logging.FolderErrorLog
	mu     sync.Mutex
}

// New creates a Coordinator for a single folder.
func New(cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	return &Coordinator{
		config: cfg,
		errLog: logging.NewFolderErrorLog(cfg.RootPath),
	}
}

// HandleEvents consumes watcher events until the channel closes or ctx is
// cancelled, indexing or removing files as they change. Each event is
// handled independently: a failing file is retried with backoff and, on
// exhaustion, skipped so one bad file cannot stall the folder's pipeline.
func (c *Coordinator) HandleEvents(ctx context.Context, events <-chan watcher.FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.handleEvent(ctx, ev); err != nil {
				slog.Error("index: event handling failed",
					slog.String("folder_id", c.config.FolderID),
					slog.String("path", ev.Path),
					slog.String("op", ev.Operation.String()),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, ev watcher.FileEvent) error {
	switch ev.Operation {
	case watcher.OpCreate, watcher.OpModify:
		if ev.IsDir {
			return nil
		}
		return c.indexFileWithRetry(ctx, ev.Path)
	case watcher.OpDelete:
		if ev.IsDir {
			return nil
		}
		return c.removeFile(ctx, ev.Path)
	case watcher.OpRename:
		if ev.IsDir {
			return nil
		}
		if ev.OldPath != "" {
			if err := c.removeFile(ctx, ev.OldPath); err != nil {
				slog.Warn("index: remove old path on rename failed",
					slog.String("path", ev.OldPath), slog.String("error", err.Error()))
			}
		}
		return c.indexFileWithRetry(ctx, ev.Path)
	case watcher.OpIgnoreChange, watcher.OpConfigChange:
		return c.ReconcileOnStartup(ctx)
	default:
		return nil
	}
}

// IndexPath (re)indexes a single file by its path relative to the folder
// root, retrying transient failures. Used to service on-demand refresh
// requests outside the normal watcher event flow.
func (c *Coordinator) IndexPath(ctx context.Context, relPath string) error {
	return c.indexFileWithRetry(ctx, relPath)
}

// indexFileWithRetry indexes relPath, retrying transient failures (e.g. a
// file still being written, a momentary embedder hiccup) before giving up.
func (c *Coordinator) indexFileWithRetry(ctx context.Context, relPath string) error {
	err := amerrors.Retry(ctx, fileRetryConfig, func() error {
		return c.indexFile(ctx, relPath)
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("index: giving up on file after retries",
			slog.String("path", relPath),
			slog.String("error", err.Error()))
		c.errLog.Append("index "+relPath, err, fileRetryConfig.MaxRetries)
	}
	return err
}

// indexFile reads, chunks, embeds, and persists one document. It is
// idempotent: indexing an already-indexed, unchanged file is a cheap no-op.
func (c *Coordinator) indexFile(ctx context.Context, relPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	absPath := filepath.Join(c.config.RootPath, relPath)

	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("index: stat %s: %w", relPath, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	if info.Size() > c.config.MaxFileSize {
		slog.Warn("index: skipping oversized file", slog.String("path", relPath), slog.Int64("size", info.Size()))
		return nil
	}

	contentType := documentContentType(relPath)
	if contentType == "" {
		return nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("index: read %s: %w", relPath, err)
	}
	if contentType == store.ContentTypeText && isBinaryContent(data) {
		return nil
	}

	contentHash := hashContent(data)
	docID := documentID(c.config.FolderID, relPath)

	existing, err := c.config.Metadata.GetDocument(ctx, docID)
	if err != nil {
		existing = nil
	}
	if existing != nil && existing.ContentHash == contentHash && !existing.NeedsReindex {
		return nil
	}

	// Chunk and embed before anything touches the database, so no
	// transaction is held open across the embedder call.
	chunker := c.chunkerFor(contentType)
	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: data})
	if err != nil {
		return fmt.Errorf("index: chunk %s: %w", relPath, err)
	}

	now := time.Now()
	storeChunks := make([]*store.Chunk, len(chunks))
	for i, ch := range chunks {
		storeChunks[i] = &store.Chunk{
			ID:          chunkID(docID, ch.Content),
			DocumentID:  docID,
			FolderID:    c.config.FolderID,
			Content:     ch.Content,
			ContentType: contentType,
			Ordinal:     i,
			StartOffset: ch.StartLine,
			EndOffset:   ch.EndLine,
			TokenCount:  len(ch.Content) / chunk.TokensPerChar,
			Metadata:    ch.Metadata,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	staged, err := c.config.Search.Stage(ctx, storeChunks)
	if err != nil {
		return fmt.Errorf("index: %s: %w", relPath, err)
	}

	doc := &store.Document{
		ID:          docID,
		FolderID:    c.config.FolderID,
		Path:        relPath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: contentHash,
		ContentType: contentType,
		Title:       documentTitle(relPath, data, contentType),
		IndexedAt:   now,
	}

	// One transaction covers the document row, the stale-chunk purge, the
	// new chunk rows, and the file state: a failure anywhere rolls all of
	// it back, so a partial file persists nothing.
	var staleChunkIDs []string
	err = c.config.Metadata.WithTx(ctx, func(tx store.MetadataStore) error {
		if existing != nil {
			old, err := tx.GetChunksByDocument(ctx, docID)
			if err != nil {
				return fmt.Errorf("index: load stale chunks: %w", err)
			}
			for _, ch := range old {
				staleChunkIDs = append(staleChunkIDs, ch.ID)
			}
			if err := tx.DeleteChunksByDocument(ctx, docID); err != nil {
				return fmt.Errorf("index: clear stale chunks: %w", err)
			}
		}
		if err := tx.SaveDocuments(ctx, []*store.Document{doc}); err != nil {
			return fmt.Errorf("index: save document: %w", err)
		}
		if staged != nil {
			if err := staged.Persist(ctx, tx); err != nil {
				return err
			}
		}
		return tx.SaveFileState(ctx, &store.FileState{
			Path:        relPath,
			Fingerprint: contentHash,
			ModTime:     info.ModTime(),
			IndexedAt:   now,
		})
	})
	if err != nil {
		return err
	}

	// The SQL state is durable; bring the in-memory vector graph in line.
	// Vector-side failures here leave only harmless orphans (search filters
	// them through metadata), never a half-written database.
	if err := c.config.Search.DropVectors(ctx, staleChunkIDs); err != nil {
		slog.Warn("index: failed to drop stale vectors",
			slog.String("path", relPath), slog.String("error", err.Error()))
	}
	if staged != nil {
		if err := staged.Commit(ctx); err != nil {
			return fmt.Errorf("index: %s: %w", relPath, err)
		}
	}

	return c.config.Metadata.RefreshFolderStats(ctx, c.config.FolderID)
}

func (c *Coordinator) chunkerFor(ct store.ContentType) chunk.Chunker {
	if ct == store.ContentTypeMarkdown {
		return c.config.MarkdownChunker
	}
	return c.config.TextChunker
}

// removeFile deletes a document and its chunks, e.g. in response to a
// watcher delete event.
func (c *Coordinator) removeFile(ctx context.Context, relPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	docID := documentID(c.config.FolderID, relPath)
	doc, err := c.config.Metadata.GetDocument(ctx, docID)
	if err != nil || doc == nil {
		return nil
	}

	// Remove the document, its chunks (by cascade), and its file state as
	// one transaction; only then drop the now-orphaned vectors.
	var ids []string
	err = c.config.Metadata.WithTx(ctx, func(tx store.MetadataStore) error {
		chunks, err := tx.GetChunksByDocument(ctx, docID)
		if err != nil {
			return fmt.Errorf("index: load chunks for delete: %w", err)
		}
		for _, ch := range chunks {
			ids = append(ids, ch.ID)
		}
		if err := tx.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("index: delete document: %w", err)
		}
		return tx.DeleteFileState(ctx, relPath)
	})
	if err != nil {
		return err
	}

	if err := c.config.Search.DropVectors(ctx, ids); err != nil {
		slog.Warn("index: failed to drop vectors for removed document",
			slog.String("path", relPath), slog.String("error", err.Error()))
	}
	return c.config.Metadata.RefreshFolderStats(ctx, c.config.FolderID)
}

// ReconcileOnStartup scans the folder and brings the index up to date with
// the filesystem: new and modified files are (re)indexed, files that no
// longer exist or are now excluded are removed. It is used both at daemon
// startup and when the folder's exclude file changes.
func (c *Coordinator) ReconcileOnStartup(ctx context.Context) error {
	existing, err := c.config.Metadata.GetDocumentsForReconciliation(ctx, c.config.FolderID)
	if err != nil {
		return fmt.Errorf("index: load existing documents: %w", err)
	}

	fileStates, err := c.config.Metadata.GetFileStates(ctx)
	if err != nil {
		return fmt.Errorf("index: load file states: %w", err)
	}

	seen := make(map[string]bool, len(existing))

	results, err := c.config.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          c.config.RootPath,
		ExcludePatterns:  c.config.ExcludePatterns,
		RespectGitignore: true,
	})
	if err != nil {
		return fmt.Errorf("index: scan folder: %w", err)
	}

	for res := range results {
		if res.Error != nil {
			slog.Warn("index: scan error", slog.String("error", res.Error.Error()))
			continue
		}
		if res.File == nil {
			continue
		}
		relPath := res.File.Path
		seen[relPath] = true

		doc, ok := existing[relPath]
		if ok && !doc.NeedsReindex {
			// Fast path: an unchanged mtime+size against the recorded file
			// state means the content hasn't changed, without re-hashing.
			if fs, hasState := fileStates[relPath]; hasState &&
				fs.ModTime.Unix() == res.File.ModTime.Unix() && doc.Size == res.File.Size {
				continue
			}
			hash, err := hashFile(filepath.Join(c.config.RootPath, relPath))
			if err == nil && hash == doc.ContentHash {
				continue
			}
		}
		if err := c.indexFileWithRetry(ctx, relPath); err != nil {
			slog.Error("index: reconcile index failed", slog.String("path", relPath), slog.String("error", err.Error()))
		}
	}

	for relPath := range existing {
		if !seen[relPath] {
			if err := c.removeFile(ctx, relPath); err != nil {
				slog.Error("index: reconcile remove failed", slog.String("path", relPath), slog.String("error", err.Error()))
			}
		}
	}

	return nil
}

func documentContentType(relPath string) store.ContentType {
	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".md", ".markdown", ".mdx":
		return store.ContentTypeMarkdown
	case ".pdf":
		return store.ContentTypePDF
	case ".docx", ".doc", ".pptx", ".xlsx":
		return store.ContentTypeOffice
	case ".txt", ".text", ".rst", ".rtf", ".csv":
		return store.ContentTypeText
	default:
		return ""
	}
}

func documentTitle(relPath string, data []byte, ct store.ContentType) string {
	if ct == store.ContentTypeMarkdown {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "# ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "#"))
			}
		}
	}
	return filepath.Base(relPath)
}

func isBinaryContent(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return hashContent(data), nil
}

func documentID(folderID, relPath string) string {
	sum := sha256.Sum256([]byte(folderID + ":" + relPath))
	return hex.EncodeToString(sum[:])
}

func chunkID(docID, content string) string {
	sum := sha256.Sum256([]byte(docID + ":" + content))
	return hex.EncodeToString(sum[:])
}
