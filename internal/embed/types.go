package embed

import (
	"context"
	"math"
	"time"
)

// Batch limits shared by every backend.
const (
	// MinBatchSize is the smallest allowed embedding batch.
	MinBatchSize = 1

	// MaxBatchSize caps a single batch so one oversized document cannot
	// exhaust the inference runtime's memory.
	MaxBatchSize = 256

	// DefaultBatchSize is the batch size the indexing pipeline uses.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one file's worth of embedding calls.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is how many times a failed embedding batch is
	// retried (with exponential backoff) before the file is skipped.
	DefaultMaxRetries = 3
)

// Static embedder constants.
const (
	// StaticDimensions is the embedding dimension of the hash-based
	// fallback embedder.
	StaticDimensions = 256
)

// Capability describes what an embedder can handle. The folder lifecycle
// uses MaxTokens to size chunks; the model evaluator reports Multilingual
// and HardwareClass to the UI when a user picks a model.
type Capability struct {
	MaxTokens     int    // longest input, in model tokens; 0 if unknown
	Multilingual  bool   // trained on more than English
	HardwareClass string // "gpu", "cpu", "daemon", or "static"
}

// Embedder generates dense vector embeddings for text. Implementations
// L2-normalize their output, preserve input order in EmbedBatch, and are
// safe for concurrent use.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Capabilities describes the model's limits and provenance.
	Capabilities() Capability

	// Available reports whether the embedder is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources. Idempotent.
	Close() error
}

// normalizeVector returns v scaled to unit length. The zero vector is
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
