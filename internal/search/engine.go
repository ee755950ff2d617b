// Package search implements semantic retrieval over one folder's indexed
// chunks: embed the query, rank by cosine similarity against the folder's
// vector store, and enrich hits with their metadata-store content.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Aman-CERP/foldermcp/internal/embed"
	amerrors "github.com/Aman-CERP/foldermcp/internal/errors"
	"github.com/Aman-CERP/foldermcp/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("search: nil dependency")

// Result is one ranked chunk returned from a search.
type Result struct {
	Chunk    *store.Chunk
	Document *store.Document
	Score    float32 // normalized similarity, higher is better
}

// Options tunes a single search call.
type Options struct {
	Limit     int     // max results; must be positive
	Threshold float32 // minimum score to keep, 0 disables filtering
}

// MaxLimit caps how many results a single search can return.
const MaxLimit = 200

// Engine binds one folder's vector store and metadata store to an embedder,
// and exposes indexing and searching for that folder.
type Engine struct {
	vector   store.VectorStore
	metadata store.MetadataStore
	embedder embed.Embedder
	mu       sync.RWMutex
}

// New constructs an Engine for a single folder's stores.
func New(vector store.VectorStore, metadata store.MetadataStore, embedder embed.Embedder) (*Engine, error) {
	if vector == nil || metadata == nil || embedder == nil {
		return nil, ErrNilDependency
	}
	return &Engine{vector: vector, metadata: metadata, embedder: embedder}, nil
}

// StagedIndex is one batch of chunks that has been embedded but not yet
// persisted. Staging happens before any database transaction opens, so no
// lock is held while the embedder runs; Persist writes the metadata rows
// inside the caller's transaction; Commit adds the vectors to the in-memory
// graph only after that transaction has committed, keeping the on-disk
// state from ever referencing vectors that are not also present.
type StagedIndex struct {
	engine     *Engine
	chunks     []*store.Chunk
	ids        []string
	embeddings [][]float32
}

// Stage embeds chunks in preparation for a transactional persist.
func (e *Engine) Stage(ctx context.Context, chunks []*store.Chunk) (*StagedIndex, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		ids[i] = c.ID
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("search: generate embeddings: %w", err)
	}

	return &StagedIndex{engine: e, chunks: chunks, ids: ids, embeddings: embeddings}, nil
}

// Persist writes the staged chunks' metadata rows and the embedding config
// through tx, which is typically a store.MetadataStore transaction view.
// The vectors themselves are not touched until Commit.
func (si *StagedIndex) Persist(ctx context.Context, tx store.MetadataStore) error {
	if err := tx.SaveChunks(ctx, si.chunks); err != nil {
		return fmt.Errorf("search: save chunk metadata: %w", err)
	}
	e := si.engine
	if err := tx.SetEmbeddingConfig(ctx, e.embedder.ModelName(), e.embedder.Dimensions()); err != nil {
		return fmt.Errorf("search: store embedding config: %w", err)
	}
	return nil
}

// Commit adds the staged vectors to the graph. Call only after the
// transaction that Persist wrote through has committed.
func (si *StagedIndex) Commit(ctx context.Context) error {
	e := si.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.vector.Add(ctx, si.ids, si.embeddings); err != nil {
		return fmt.Errorf("search: add vectors: %w", err)
	}
	return nil
}

// Index embeds and stores chunks in both the vector index and the metadata
// store. Chunks already present (matching ID) are overwritten. The metadata
// writes commit as one transaction; vectors join the graph afterward.
func (e *Engine) Index(ctx context.Context, chunks []*store.Chunk) error {
	staged, err := e.Stage(ctx, chunks)
	if err != nil || staged == nil {
		return err
	}

	err = e.metadata.WithTx(ctx, func(tx store.MetadataStore) error {
		return staged.Persist(ctx, tx)
	})
	if err != nil {
		return err
	}

	return staged.Commit(ctx)
}

// DropVectors removes chunk IDs from the vector graph only, used when their
// metadata rows were already deleted inside a transaction elsewhere.
func (e *Engine) DropVectors(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vector.Delete(ctx, chunkIDs)
}

// validateDimensions rejects a search when the current embedder no longer
// matches the dimension the folder's vectors were built with.
func (e *Engine) validateDimensions(ctx context.Context) error {
	storedModel, indexDim, err := e.metadata.GetEmbeddingConfig(ctx)
	if err != nil || indexDim == 0 {
		return nil
	}

	if storedModel != e.embedder.ModelName() {
		return store.ErrModelMismatch{Expected: storedModel, Got: e.embedder.ModelName()}
	}
	currentDim := e.embedder.Dimensions()
	if indexDim != currentDim {
		return store.ErrDimensionMismatch{Expected: indexDim, Got: currentDim}
	}
	return nil
}

// Delete removes chunks from the vector index and the metadata store.
// Metadata is the source of truth; a vector-delete failure leaves a
// harmless orphan that search already filters out via metadata lookup.
func (e *Engine) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.vector.Delete(ctx, chunkIDs); err != nil {
		slog.Warn("search: vector delete failed, orphan will remain until next save",
			slog.String("error", err.Error()), slog.Int("count", len(chunkIDs)))
	}

	if err := e.metadata.DeleteChunks(ctx, chunkIDs); err != nil {
		return fmt.Errorf("search: delete chunk metadata: %w", err)
	}
	return nil
}

// Search embeds query and returns the top-scoring chunks, enriched with
// their parent document, ordered by descending score.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	// Empty queries and non-positive k are caller errors, rejected before
	// anything is embedded.
	if strings.TrimSpace(query) == "" {
		return nil, amerrors.ValidationFailedError("search query must not be empty")
	}
	if opts.Limit <= 0 {
		return nil, amerrors.ValidationFailedError("search k must be positive")
	}

	if err := e.validateDimensions(ctx); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit > MaxLimit {
		limit = MaxLimit
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	hits, err := e.vector.Search(ctx, queryVec, limit)
	if err != nil {
		return nil, fmt.Errorf("search: vector search: %w", err)
	}

	ids := make([]string, 0, len(hits))
	scoreByID := make(map[string]float32, len(hits))
	for _, h := range hits {
		if opts.Threshold > 0 && h.Score < opts.Threshold {
			continue
		}
		ids = append(ids, h.ID)
		scoreByID[h.ID] = h.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}

	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: load chunk metadata: %w", err)
	}

	docCache := make(map[string]*store.Document)
	results := make([]*Result, 0, len(chunks))
	for _, c := range chunks {
		doc, ok := docCache[c.DocumentID]
		if !ok {
			doc, err = e.metadata.GetDocument(ctx, c.DocumentID)
			if err != nil {
				slog.Warn("search: chunk references missing document",
					slog.String("chunk_id", c.ID), slog.String("document_id", c.DocumentID))
				doc = nil
			}
			docCache[c.DocumentID] = doc
		}
		results = append(results, &Result{Chunk: c, Document: doc, Score: scoreByID[c.ID]})
	}

	// Descending similarity; ties break deterministically by document then
	// chunk position so repeated queries return a stable order.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.DocumentID != results[j].Chunk.DocumentID {
			return results[i].Chunk.DocumentID < results[j].Chunk.DocumentID
		}
		return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
	})
	return results, nil
}

// Stats reports the folder's current index size.
func (e *Engine) Stats() (chunkCount int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vector.Count()
}

// Close releases the underlying vector store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vector.Close()
}
