//go:build debug

package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
)

// TestDebugVectorSearch inspects a real on-disk vector store. It is a
// manual diagnostic, not CI coverage: point DEBUG_DATA_DIR at a folder's
// .folder-mcp directory and run with DEBUG_VECTOR=1.
func TestDebugVectorSearch(t *testing.T) {
	if os.Getenv("DEBUG_VECTOR") != "1" {
		t.Skip("Skipping debug test (set DEBUG_VECTOR=1 to run)")
	}

	ctx := context.Background()

	dataDir := os.Getenv("DEBUG_DATA_DIR")
	if dataDir == "" {
		dataDir = ".folder-mcp"
	}

	vectorPath := dataDir + "/vectors.hnsw"
	dims, err := ReadHNSWStoreDimensions(vectorPath)
	if err != nil {
		t.Fatalf("Failed to read dimensions: %v", err)
	}
	fmt.Printf("Vector store dimensions: %d\n", dims)

	vector, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	if err != nil {
		t.Fatalf("Failed to create vector store: %v", err)
	}
	defer vector.Close()

	if err := vector.Load(vectorPath); err != nil {
		t.Fatalf("Failed to load vectors: %v", err)
	}
	fmt.Printf("Loaded %d vectors\n", vector.Count())
	fmt.Printf("Vector store stats: %+v\n", vector.Stats())

	// Probe score distribution with a few synthetic unit queries.
	for i := 0; i < 3; i++ {
		queryVec := make([]float32, dims)
		for j := range queryVec {
			queryVec[j] = float32(i*1000+j) / float32(dims*1000)
		}
		var norm float32
		for _, v := range queryVec {
			norm += v * v
		}
		norm = float32(math.Sqrt(float64(norm)))
		for j := range queryVec {
			queryVec[j] /= norm
		}

		results, err := vector.Search(ctx, queryVec, 3)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		fmt.Printf("Probe %d:", i+1)
		for _, r := range results {
			fmt.Printf(" %s=%.4f", r.ID[:8], r.Score)
		}
		fmt.Println()
	}
}
