package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ProviderType represents an embedding backend.
type ProviderType string

const (
	// ProviderGPU uses a native GPU inference runtime loaded via purego.Dlopen.
	// Only ever auto-selected when the hardware detector reports >=4GiB VRAM.
	ProviderGPU ProviderType = "gpu"

	// ProviderCPU uses a native CPU-tuned inference runtime loaded via purego.Dlopen.
	// The universal auto-selected fallback when no capable GPU is present.
	ProviderCPU ProviderType = "cpu"

	// ProviderDaemon calls out to a user-managed local inference process over HTTP.
	// Never auto-selected: a folder must be explicitly configured to use it.
	ProviderDaemon ProviderType = "daemon"

	// ProviderStatic uses hash-based embeddings (offline fallback, no model download).
	ProviderStatic ProviderType = "static"
)

// SelectionMode controls whether NewEmbedder is allowed to pick a backend on
// its own (assisted) or must use exactly the configured provider (manual).
type SelectionMode string

const (
	// ModeAssisted lets the hardware detector recommend GPU or CPU automatically.
	ModeAssisted SelectionMode = "assisted"
	// ModeManual requires the caller to name a provider explicitly; this is
	// the only mode in which ProviderDaemon may be selected.
	ModeManual SelectionMode = "manual"
)

// NewEmbedderOptions configures backend construction.
type NewEmbedderOptions struct {
	Mode       SelectionMode
	Provider   ProviderType // required when Mode == ModeManual
	Model      ModelSpec    // required for gpu/cpu backends
	DaemonAddr string       // required when Provider == ProviderDaemon
	ModelsDir  string        // directory GPU/CPU backends download weights into
}

// NewEmbedder constructs an Embedder per opts, wrapping it in the query
// embedding LRU cache unless FOLDERMCP_EMBED_CACHE disables that.
//
// In ModeAssisted, ProviderDaemon is never selected even if opts.Provider
// names it: the external daemon backend requires a human to point the
// daemon at a specific local process, which assisted mode cannot infer.
func NewEmbedder(ctx context.Context, opts NewEmbedderOptions) (Embedder, error) {
	var embedder Embedder
	var err error

	provider := opts.Provider
	if opts.Mode == ModeAssisted && provider == ProviderDaemon {
		return nil, fmt.Errorf("embed: the external daemon backend cannot be auto-selected, configure it explicitly")
	}

	switch provider {
	case ProviderGPU:
		embedder, err = newGPUEmbedder(ctx, opts.Model, opts.ModelsDir)
	case ProviderCPU:
		embedder, err = newCPUEmbedder(ctx, opts.Model, opts.ModelsDir)
	case ProviderDaemon:
		embedder, err = newDaemonEmbedder(ctx, opts.DaemonAddr, opts.Model)
	case ProviderStatic:
		embedder, err = NewStaticEmbedder(), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", provider)
	}
	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("FOLDERMCP_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// ParseProvider converts a string to ProviderType.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "gpu":
		return ProviderGPU
	case "daemon", "external":
		return ProviderDaemon
	case "static":
		return ProviderStatic
	default:
		return ProviderCPU
	}
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderGPU), string(ProviderCPU), string(ProviderDaemon), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains introspection information about a constructed embedder.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder, unwrapping the cache layer if present.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *GPUEmbedder:
		info.Provider = ProviderGPU
	case *CPUEmbedder:
		info.Provider = ProviderCPU
	case *DaemonEmbedder:
		info.Provider = ProviderDaemon
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// MustNewEmbedder constructs an embedder and panics on failure.
// Use only in tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, opts NewEmbedderOptions) Embedder {
	embedder, err := NewEmbedder(ctx, opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}

func logBackendSelection(backend string, model string) {
	slog.Info("embedding backend selected", slog.String("backend", backend), slog.String("model", model))
}
