// Package store provides vector storage (HNSW) and metadata persistence (SQLite)
// for indexed document folders. This is the persistence layer for all indexed data.
package store

import (
	"context"
	"fmt"
	"time"
)

// ContentType represents the type of content in a chunk or document.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypePDF      ContentType = "pdf"
	ContentTypeOffice   ContentType = "office"
)

// Checkpoint state keys for resumable indexing.
const (
	StateKeyCheckpointStage         = "checkpoint_stage"
	StateKeyCheckpointTotal         = "checkpoint_total"
	StateKeyCheckpointEmbedded      = "checkpoint_embedded"
	StateKeyCheckpointTimestamp     = "checkpoint_timestamp"
	StateKeyCheckpointEmbedderModel = "checkpoint_embedder_model"
)

// Chunk represents a retrievable unit of a document: a paragraph-bounded
// window of 200-500 tokens with bounded overlap with its neighbors.
type Chunk struct {
	ID          string // content-addressable: sha256(docID + contentHash)
	DocumentID  string // parent document ID
	FolderID    string // parent folder ID
	Content     string
	ContentType ContentType
	Ordinal     int // position of this chunk within the document, 0-indexed
	StartOffset int // byte offset into the parsed document text
	EndOffset   int
	TokenCount  int
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document represents a single tracked file within a folder.
type Document struct {
	ID           string // sha256(folderID + relative_path)
	FolderID     string
	Path         string // relative to folder root
	Size         int64
	ModTime      time.Time
	ContentHash  string // sha256 of raw file bytes
	ContentType  ContentType
	Title        string // best-effort title (markdown H1, PDF metadata, filename fallback)
	IndexedAt    time.Time
	NeedsReindex bool // set by MarkForReindex, cleared on the next save
}

// FileState is the persisted per-file scan record: the content fingerprint
// and mtime observed when the file was last indexed, which scan diffing
// compares against to classify a file as added, modified, or unchanged.
type FileState struct {
	Path        string // relative to folder root
	Fingerprint string // sha256 of raw file bytes
	ModTime     time.Time
	IndexedAt   time.Time
}

// Folder represents one registered document folder and its index state.
type Folder struct {
	ID         string // sha256(absolute_path)
	Path       string // absolute path
	DocCount   int
	ChunkCount int
	IndexedAt  time.Time
	Version    string // index schema version
}

// MetadataStore persists document/chunk metadata in SQLite, scoped to one folder's index.
type MetadataStore interface {
	// Folder operations
	SaveFolder(ctx context.Context, folder *Folder) error
	GetFolder(ctx context.Context, id string) (*Folder, error)
	UpdateFolderStats(ctx context.Context, id string, docCount, chunkCount int) error
	RefreshFolderStats(ctx context.Context, id string) error

	// Document operations
	SaveDocuments(ctx context.Context, docs []*Document) error
	GetDocumentByPath(ctx context.Context, folderID, path string) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, folderID string, cursor string, limit int) ([]*Document, string, error)
	GetDocumentsForReconciliation(ctx context.Context, folderID string) (map[string]*Document, error)
	DeleteDocument(ctx context.Context, docID string) error // cascades to chunks
	DeleteDocumentsByFolder(ctx context.Context, folderID string) error

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByDocument(ctx context.Context, docID string) ([]*Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	DeleteChunksByDocument(ctx context.Context, docID string) error

	// Embedding config: the single-row model identity invariant
	SetEmbeddingConfig(ctx context.Context, modelName string, dimension int) error
	GetEmbeddingConfig(ctx context.Context) (modelName string, dimension int, err error)

	// File states, the scan diffing baseline
	SaveFileState(ctx context.Context, fs *FileState) error
	GetFileStates(ctx context.Context) (map[string]*FileState, error)
	DeleteFileState(ctx context.Context, path string) error

	// Reindex marking
	MarkForReindex(ctx context.Context, folderID, path string) error
	GetDocumentsNeedingReindex(ctx context.Context, folderID string) ([]*Document, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Checkpoint operations (for resumable indexing)
	SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error
	LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error)
	ClearIndexCheckpoint(ctx context.Context) error

	// Maintenance
	ValidateIntegrity(ctx context.Context) error
	Optimize(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx MetadataStore) error) error

	// Lifecycle
	Close() error
}

// IndexCheckpoint represents the saved state of an indexing operation for resume.
type IndexCheckpoint struct {
	Stage         string
	Total         int
	EmbeddedCount int
	Timestamp     time.Time
	EmbedderModel string
}

// IndexInfo contains comprehensive information about one folder's index.
type IndexInfo struct {
	Location   string
	FolderPath string

	IndexModel      string
	IndexBackend    string
	IndexDimensions int

	ChunkCount      int
	DocumentCount   int
	IndexSizeBytes  int64
	VectorSizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
	Compatible        bool
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" (cosine) is the only supported metric
	M              int    // HNSW max connections per layer
	EfConstruction int    // HNSW build-time search width
	EfSearch       int    // HNSW query-time search width
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides semantic search using the HNSW algorithm.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates the embedder's output dimension no longer
// matches the dimension the index was built with.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (folder must be reindexed)", e.Expected, e.Got)
}

// ErrModelMismatch indicates the embedder model no longer matches the model
// the index was built with.
type ErrModelMismatch struct {
	Expected string
	Got      string
}

func (e ErrModelMismatch) Error() string {
	return fmt.Sprintf("embedding model mismatch: index was built with %q, current model is %q (folder must be reindexed)", e.Expected, e.Got)
}
