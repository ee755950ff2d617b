// Package embed provides the embedding providers for folder-mcp.
// This file implements model file downloading and caching.
package embed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// ModelDownloadTimeout is the maximum time to wait for model download.
	ModelDownloadTimeout = 30 * time.Minute
)

// ModelSpec identifies a downloadable embedding model file, as selected by
// the hardware catalog evaluator (internal/hardware).
type ModelSpec struct {
	Name         string // catalog model id, e.g. "bge-small-en-v1.5"
	File         string // file name on disk once downloaded
	URL          string // source URL
	SizeBytes    int64  // approximate size, used when the server omits Content-Length
	Dimensions   int
	MaxTokens    int  // model context window, from the catalog
	Multilingual bool // trained on more than English, from the catalog
}

// ModelManager handles downloading and caching of embedding models, keyed by
// model file name so multiple catalog models can share one directory.
type ModelManager struct {
	modelsDir string
	lock      *FileLock
	mu        sync.Mutex
}

// NewModelManager creates a new model manager. An empty modelsDir uses the
// default process-wide cache, ~/.cache/folder-mcp/models.
func NewModelManager(modelsDir string) *ModelManager {
	if modelsDir == "" {
		modelsDir = DefaultModelsDir()
	}
	return &ModelManager{
		modelsDir: modelsDir,
	}
}

// ModelPath returns the path a given model spec would be stored at.
func (m *ModelManager) ModelPath(spec ModelSpec) string {
	return filepath.Join(m.modelsDir, spec.File)
}

// EnsureModel ensures the given model is available locally, downloading it
// if necessary. Returns the path to the model file.
func (m *ModelManager) EnsureModel(ctx context.Context, spec ModelSpec, progressFn func(downloaded, total int64)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	modelPath := m.ModelPath(spec)

	// Check if model already exists
	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	// Create models directory
	if err := os.MkdirAll(m.modelsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	// Acquire file lock to prevent concurrent downloads of the same model
	// across daemon processes sharing this models directory.
	m.lock = NewFileLock(m.modelsDir)
	if err := m.lock.Lock(); err != nil {
		return "", fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer func() {
		if err := m.lock.Unlock(); err != nil {
			// Log but don't fail
			_ = err
		}
	}()

	// Check again after acquiring lock (another process may have downloaded)
	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	// Download the model. Transient network failures retry with backoff;
	// context cancellation aborts immediately.
	err := DownloadWithRetry(ctx, DefaultRetryConfig(), func() error {
		return m.downloadModel(ctx, spec, modelPath, progressFn)
	})
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}

	return modelPath, nil
}

// downloadModel downloads the model from its catalog URL.
func (m *ModelManager) downloadModel(ctx context.Context, spec ModelSpec, destPath string, progressFn func(downloaded, total int64)) error {
	// Create temp file for atomic download
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath) // Clean up on failure

	// Create HTTP request with context
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Add user agent
	req.Header.Set("User-Agent", "foldermcp/1.0")

	// Execute request
	client := &http.Client{
		Timeout: ModelDownloadTimeout,
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	// Create temp file
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	// Get content length for progress
	totalSize := resp.ContentLength
	if totalSize <= 0 {
		totalSize = spec.SizeBytes
	}

	// Download with progress tracking
	var downloaded int64
	buf := make([]byte, 32*1024) // 32KB buffer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write: %w", writeErr)
			}
			downloaded += int64(n)
			if progressFn != nil {
				progressFn(downloaded, totalSize)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read: %w", err)
		}
	}

	// Sync and close
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}

	return nil
}

// ModelExists checks if the given model's file exists locally.
func (m *ModelManager) ModelExists(spec ModelSpec) bool {
	info, err := os.Stat(m.ModelPath(spec))
	return err == nil && info.Size() > 0
}

// DeleteModel removes one cached model file.
func (m *ModelManager) DeleteModel(spec ModelSpec) error {
	return os.Remove(m.ModelPath(spec))
}

// DefaultModelsDir returns the process-wide model cache directory,
// shared by every folder and daemon instance on the machine.
func DefaultModelsDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "folder-mcp", "models")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cache", "folder-mcp", "models")
}
