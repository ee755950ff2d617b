// Package hardware detects host capabilities (CPU, RAM, GPU) and scores the
// curated embedding model catalog against them, the way internal/preflight
// scores a project's readiness before indexing starts.
package hardware

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed data/models.json
var embeddedCatalogJSON []byte

// CuratedModel is one entry in the static model catalog. External-daemon
// models are never represented here: they are discovered at runtime only
// (see ExternalModel) and never participate in scoring.
type CuratedModel struct {
	ID              string             `json:"id"`
	DisplayName     string             `json:"displayName"`
	Dimension       int                `json:"dimension"`
	MaxTokens       int                `json:"maxTokens"`
	DownloadURL     string             `json:"downloadUrl"`
	ExpectedSize    int64              `json:"expectedSize"`
	MTEBScore       float64            `json:"mtebScore"`
	TokensPerSecond float64            `json:"tokensPerSecond"`
	MinVRAMMiB      int                `json:"minVRAMMiB"`
	LanguageScores  map[string]float64 `json:"languageScores"`
}

// HardwareClass reports which backend a curated model runs under.
func (m CuratedModel) HardwareClass() string {
	if m.MinVRAMMiB > 0 {
		return "gpu"
	}
	return "cpu"
}

// Multilingual reports whether the catalog credits the model with usable
// quality in at least one language besides English.
func (m CuratedModel) Multilingual() bool {
	for lang, score := range m.LanguageScores {
		if lang != "en" && score >= 0.6 {
			return true
		}
	}
	return false
}

// Catalog holds the full curated model set, partitioned the way the static
// JSON file on disk partitions it: GPU (native ML) models and ONNX
// (CPU graph, quantized) models.
type Catalog struct {
	GPUModels  []CuratedModel `json:"gpuModels"`
	ONNXModels []CuratedModel `json:"onnxModels"`
}

// All returns every curated model, GPU models first.
func (c Catalog) All() []CuratedModel {
	out := make([]CuratedModel, 0, len(c.GPUModels)+len(c.ONNXModels))
	out = append(out, c.GPUModels...)
	out = append(out, c.ONNXModels...)
	return out
}

// LoadEmbeddedCatalog parses the catalog baked into the binary. Each
// ONNX model record's downloadUrl is the fixed source for its CPU-backend
// first-use download: the catalog itself ships with the daemon binary.
func LoadEmbeddedCatalog() (Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(embeddedCatalogJSON, &c); err != nil {
		return Catalog{}, fmt.Errorf("hardware: parse embedded model catalog: %w", err)
	}
	return c, nil
}

// ExternalModel describes a model served by a user-managed local inference
// daemon, discovered at runtime. It carries only enough information for
// manual-mode listings; it never competes for a recommendation score.
type ExternalModel struct {
	ID          string
	DisplayName string
	Addr        string
}
