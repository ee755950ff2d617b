package embed

import (
	"context"
	"fmt"
	"sync"

	amerrors "github.com/Aman-CERP/foldermcp/internal/errors"
)

// CPUEmbedder generates embeddings using a native CPU-tuned inference
// runtime (a quantized INT8 graph), loaded without cgo via purego.Dlopen.
// This is the universal fallback backend: every machine the daemon runs on
// can use it, unlike GPUEmbedder which needs a capable GPU.
type CPUEmbedder struct {
	mu     sync.RWMutex
	rt     *nativeRuntime
	model  ModelSpec
	closed bool
}

// newCPUEmbedder downloads (if needed) the given model and opens the native
// CPU runtime against it.
func newCPUEmbedder(ctx context.Context, model ModelSpec, modelsDir string) (*CPUEmbedder, error) {
	if model.Dimensions == 0 {
		return nil, fmt.Errorf("embed: cpu backend requires a model spec with dimensions")
	}
	mgr := NewModelManager(modelsDir)
	path, err := mgr.EnsureModel(ctx, model, nil)
	if err != nil {
		return nil, fmt.Errorf("embed: cpu backend model download: %w", err)
	}
	rt, err := openNativeRuntime("cpu", path, model.Dimensions)
	if err != nil {
		return nil, err
	}
	logBackendSelection("cpu", model.Name)
	return &CPUEmbedder{rt: rt, model: model}, nil
}

func (e *CPUEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	return e.rt.embed(ctx, text)
}

func (e *CPUEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return nil, amerrors.ValidationFailedError("embed batch must not be empty")
	}
	return e.rt.embedMany(ctx, texts)
}

func (e *CPUEmbedder) Dimensions() int   { return e.model.Dimensions }
func (e *CPUEmbedder) ModelName() string { return e.model.Name }

func (e *CPUEmbedder) Capabilities() Capability {
	return Capability{
		MaxTokens:     e.model.MaxTokens,
		Multilingual:  e.model.Multilingual,
		HardwareClass: "cpu",
	}
}

func (e *CPUEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.rt != nil
}

func (e *CPUEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.rt.close()
}

var _ Embedder = (*CPUEmbedder)(nil)
