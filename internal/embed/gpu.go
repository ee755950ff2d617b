package embed

import (
	"context"
	"fmt"
	"sync"

	amerrors "github.com/Aman-CERP/foldermcp/internal/errors"
)

// GPUEmbedder generates embeddings using a native GPU inference runtime,
// loaded without cgo via purego.Dlopen. Only selected by the hardware
// detector when it reports at least 4GiB of VRAM; callers that want it
// unconditionally should construct it directly.
type GPUEmbedder struct {
	mu     sync.RWMutex
	rt     *nativeRuntime
	model  ModelSpec
	closed bool
}

// newGPUEmbedder downloads (if needed) the given model and opens the native
// GPU runtime against it.
func newGPUEmbedder(ctx context.Context, model ModelSpec, modelsDir string) (*GPUEmbedder, error) {
	if model.Dimensions == 0 {
		return nil, fmt.Errorf("embed: gpu backend requires a model spec with dimensions")
	}
	mgr := NewModelManager(modelsDir)
	path, err := mgr.EnsureModel(ctx, model, nil)
	if err != nil {
		return nil, fmt.Errorf("embed: gpu backend model download: %w", err)
	}
	rt, err := openNativeRuntime("gpu", path, model.Dimensions)
	if err != nil {
		return nil, err
	}
	logBackendSelection("gpu", model.Name)
	return &GPUEmbedder{rt: rt, model: model}, nil
}

func (e *GPUEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	return e.rt.embed(ctx, text)
}

func (e *GPUEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *GPUEmbedder) Dimensions() int   { return e.model.Dimensions }
func (e *GPUEmbedder) ModelName() string { return e.model.Name }

func (e *GPUEmbedder) Capabilities() Capability {
	return Capability{
		MaxTokens:     e.model.MaxTokens,
		Multilingual:  e.model.Multilingual,
		HardwareClass: "gpu",
	}
}

func (e *GPUEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.rt != nil
}

func (e *GPUEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.rt.close()
}

var _ Embedder = (*GPUEmbedder)(nil)
