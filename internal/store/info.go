package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FormatBytes renders a byte count as a short human-readable string
// (e.g. "1.5 KB", "42.0 MB"), matching the units `foldermcpd status` prints.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// getDirSize sums the apparent size of every regular file under root.
// Missing or unreadable paths report 0 rather than erroring, since this is
// only used for informational sizing in `foldermcpd status`.
func getDirSize(root string) int64 {
	var total int64
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil //nolint:nilerr // best-effort size, skip unreadable entries
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// inferBackendFromModel guesses which embedding backend produced a model
// name when the backend itself wasn't recorded alongside it (legacy
// indexes). Quantized ONNX catalog entries run on the CPU backend; the
// hash embedder records itself as "static"; everything else is a GPU
// catalog model.
func inferBackendFromModel(model string) string {
	lower := strings.ToLower(model)
	switch {
	case lower == "" || strings.Contains(lower, "static"):
		return "static"
	case strings.Contains(lower, "onnx"),
		strings.Contains(lower, "minilm"),
		strings.Contains(lower, "-small"):
		return "cpu"
	default:
		return "gpu"
	}
}

// BuildIndexInfo gathers the information `foldermcpd index info` reports for
// one folder: where its data lives, what embedder built it, and whether that
// embedder still matches the currently configured one.
func BuildIndexInfo(ctx context.Context, ms MetadataStore, dataDir, folderPath string, currentModel, currentBackend string, currentDimensions int) (*IndexInfo, error) {
	folder, err := ms.GetFolder(ctx, folderIDFromPath(folderPath))
	if err != nil {
		return nil, fmt.Errorf("load folder metadata: %w", err)
	}

	indexModel, indexDims, err := ms.GetEmbeddingConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embedding config: %w", err)
	}

	info := &IndexInfo{
		Location:          dataDir,
		FolderPath:        folderPath,
		IndexModel:        indexModel,
		IndexBackend:      inferBackendFromModel(indexModel),
		IndexDimensions:   indexDims,
		ChunkCount:        folder.ChunkCount,
		DocumentCount:     folder.DocCount,
		VectorSizeBytes:   getDirSize(filepath.Join(dataDir, "vectors")),
		IndexSizeBytes:    getDirSize(dataDir),
		CreatedAt:         folder.IndexedAt,
		UpdatedAt:         folder.IndexedAt,
		CurrentModel:      currentModel,
		CurrentBackend:    currentBackend,
		CurrentDimensions: currentDimensions,
		Compatible:        indexModel == currentModel && indexDims == currentDimensions,
	}
	return info, nil
}
