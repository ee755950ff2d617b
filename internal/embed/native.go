package embed

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

// nativeRuntime wraps a dynamically loaded inference shared library via
// purego, so the daemon can call into GPU/CPU-accelerated embedding code
// without a cgo build step. Both GPUEmbedder and CPUEmbedder share this
// loader; they differ only in which shared library and model they load.
type nativeRuntime struct {
	handle uintptr

	embedOne   func(modelHandle uintptr, text string, outDims int) []float32
	embedBatch func(modelHandle uintptr, texts []string, outDims int) [][]float32
	loadModel  func(path string) uintptr
	freeModel  func(modelHandle uintptr)

	modelHandle uintptr
	dimensions  int
	mu          sync.Mutex
}

// libraryCandidates returns the platform-specific shared library names the
// native runtime might be installed as, most preferred first.
func libraryCandidates(variant string) []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{fmt.Sprintf("libfoldermcp_%s.dylib", variant)}
	case "windows":
		return []string{fmt.Sprintf("foldermcp_%s.dll", variant)}
	default:
		return []string{fmt.Sprintf("libfoldermcp_%s.so", variant)}
	}
}

// openNativeRuntime Dlopens the first available candidate library and binds
// the small C ABI the native runtime exports: load_model/free_model and
// embed_one/embed_batch.
func openNativeRuntime(variant string, modelPath string, dimensions int) (*nativeRuntime, error) {
	var handle uintptr
	var lastErr error
	for _, name := range libraryCandidates(variant) {
		h, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			handle = h
			break
		}
		lastErr = err
	}
	if handle == 0 {
		return nil, fmt.Errorf("embed: no native %s runtime found: %w", variant, lastErr)
	}

	nr := &nativeRuntime{handle: handle, dimensions: dimensions}
	purego.RegisterLibFunc(&nr.loadModel, handle, "foldermcp_load_model")
	purego.RegisterLibFunc(&nr.freeModel, handle, "foldermcp_free_model")
	purego.RegisterLibFunc(&nr.embedOne, handle, "foldermcp_embed_one")
	purego.RegisterLibFunc(&nr.embedBatch, handle, "foldermcp_embed_batch")

	nr.modelHandle = nr.loadModel(modelPath)
	if nr.modelHandle == 0 {
		return nil, fmt.Errorf("embed: native %s runtime failed to load model %s", variant, modelPath)
	}
	return nr, nil
}

func (nr *nativeRuntime) embed(ctx context.Context, text string) ([]float32, error) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	vec := nr.embedOne(nr.modelHandle, text, nr.dimensions)
	if len(vec) != nr.dimensions {
		return nil, fmt.Errorf("embed: native runtime returned %d dims, expected %d", len(vec), nr.dimensions)
	}
	return normalizeVector(vec), nil
}

func (nr *nativeRuntime) embedMany(ctx context.Context, texts []string) ([][]float32, error) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	vecs := nr.embedBatch(nr.modelHandle, texts, nr.dimensions)
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = normalizeVector(v)
	}
	return out, nil
}

func (nr *nativeRuntime) close() error {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	if nr.modelHandle != 0 {
		nr.freeModel(nr.modelHandle)
		nr.modelHandle = 0
	}
	return nil
}
