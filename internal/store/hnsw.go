package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore holds one folder's chunk vectors in an in-memory HNSW graph,
// persisted as a sidecar file next to the folder's metadata database.
// Chunk IDs are strings; the graph keys are monotonically assigned uint64s,
// mapped both ways so a chunk can be replaced or lazily deleted without
// touching the graph structure.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	chunkToKey map[string]uint64
	keyToChunk map[uint64]string
	nextKey    uint64

	closed bool
}

// hnswSidecar is the gob payload persisted alongside the exported graph.
// keyToChunk is rebuilt from IDMap on load.
type hnswSidecar struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates an empty vector store for one folder. Cosine is the
// only metric: vectors are unit-normalized on insert, so cosine distance
// doubles as an inner product.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector store: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.Metric != "cos" {
		return nil, fmt.Errorf("vector store: unsupported metric %q", cfg.Metric)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:      graph,
		config:     cfg,
		chunkToKey: make(map[string]uint64),
		keyToChunk: make(map[uint64]string),
	}, nil
}

// Add inserts or replaces vectors keyed by chunk ID. Replacement is lazy:
// the old graph node is orphaned rather than removed, because deleting the
// last node corrupts a coder/hnsw graph.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("vector store: %d ids but %d vectors", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if oldKey, ok := s.chunkToKey[id]; ok {
			delete(s.keyToChunk, oldKey)
			delete(s.chunkToKey, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.chunkToKey[id] = key
		s.keyToChunk[key] = id
	}
	return nil
}

// Search returns up to k chunks nearest to the query vector, most similar
// first. Orphaned graph nodes from lazy deletes are filtered out, so the
// result can be shorter than k even when the graph holds more nodes.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	nodes := s.graph.Search(q, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, live := s.keyToChunk[node.Key]
		if !live {
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    cosineDistanceToScore(distance),
		})
	}
	return results, nil
}

// Delete unmaps chunk IDs. The graph nodes stay behind as orphans until the
// next full rebuild; Search and Count never see them.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, id := range ids {
		if key, ok := s.chunkToKey[id]; ok {
			delete(s.keyToChunk, key)
			delete(s.chunkToKey, id)
		}
	}
	return nil
}

// AllIDs returns the chunk IDs of all live vectors, in no particular order.
// The indexing pipeline uses it to reconcile vectors against stored chunks.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.chunkToKey))
	for id := range s.chunkToKey {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether a live vector exists for the chunk ID.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.chunkToKey[id]
	return ok
}

// Count returns the number of live vectors, excluding orphans.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.chunkToKey)
}

// HNSWStats describes graph occupancy. Orphans accumulate from lazy deletes
// and chunk replacements; Optimize decides from this when a rebuild pays off.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns graph occupancy counters.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}
	return HNSWStats{
		ValidIDs:   len(s.chunkToKey),
		GraphNodes: s.graph.Len(),
		Orphans:    s.graph.Len() - len(s.chunkToKey),
	}
}

// Save persists the graph and its ID sidecar atomically (temp file + rename).
// path is the graph file; the sidecar lives at path + ".meta".
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector store directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close graph file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace graph file: %w", err)
	}

	return s.saveSidecar(path + ".meta")
}

func (s *HNSWStore) saveSidecar(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create sidecar file: %w", err)
	}

	payload := hnswSidecar{
		IDMap:   s.chunkToKey,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(f).Encode(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close sidecar file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores a previously saved graph and sidecar into this store,
// replacing its current contents.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := s.loadSidecar(path + ".meta"); err != nil {
		return fmt.Errorf("load sidecar: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()

	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (s *HNSWStore) loadSidecar(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var payload hnswSidecar
	if err := gob.NewDecoder(f).Decode(&payload); err != nil {
		return fmt.Errorf("decode sidecar: %w", err)
	}

	s.chunkToKey = payload.IDMap
	s.nextKey = payload.NextKey
	s.config = payload.Config
	s.keyToChunk = make(map[uint64]string, len(payload.IDMap))
	for id, key := range payload.IDMap {
		s.keyToChunk[key] = id
	}
	return nil
}

// Close releases the graph. Further calls on the store fail.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadHNSWStoreDimensions reads the dimension recorded in a saved store's
// sidecar without loading the graph. Returns 0 when no sidecar exists yet,
// which callers treat as a fresh folder.
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	f, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open vector sidecar: %w", err)
	}
	defer f.Close()

	var payload hnswSidecar
	if err := gob.NewDecoder(f).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode vector sidecar: %w", err)
	}
	return payload.Config.Dimensions, nil
}

var _ VectorStore = (*HNSWStore)(nil)

func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// cosineDistanceToScore maps cosine distance (0 identical, 2 opposite) to a
// similarity in [0, 1].
func cosineDistanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
