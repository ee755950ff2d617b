package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/foldermcp/internal/config"
	"github.com/Aman-CERP/foldermcp/internal/embed"
	"github.com/Aman-CERP/foldermcp/internal/hardware"
	"github.com/Aman-CERP/foldermcp/internal/modeldownload"
)

// buildEmbedder constructs the process-wide embedding provider from config.
// With no explicit provider, the hardware detector and model evaluator pick
// a curated model in assisted mode; a named provider or model is honored as
// manual selection instead.
func buildEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	switch cfg.Embeddings.Provider {
	case "static":
		return embed.NewEmbedder(ctx, embed.NewEmbedderOptions{
			Mode:     embed.ModeManual,
			Provider: embed.ProviderStatic,
		})
	case "daemon":
		return embed.NewEmbedder(ctx, embed.NewEmbedderOptions{
			Mode:       embed.ModeManual,
			Provider:   embed.ProviderDaemon,
			DaemonAddr: cfg.Embeddings.DaemonAddr,
			Model:      embed.ModelSpec{Name: cfg.Embeddings.Model, Dimensions: cfg.Embeddings.Dimensions},
		})
	}

	catalog, err := hardware.LoadEmbeddedCatalog()
	if err != nil {
		return nil, err
	}

	detector := hardware.NewDetector(filepath.Join(hardware.CacheDir(), "capabilities.json"))
	caps := detector.Detect()

	model, ok := pickCuratedModel(catalog, caps, cfg)
	if !ok {
		return nil, fmt.Errorf("no curated embedding model is compatible with this host")
	}

	provider := embed.ProviderCPU
	mode := embed.ModeAssisted
	if cfg.Embeddings.Provider != "" {
		mode = embed.ModeManual
		provider = embed.ParseProvider(cfg.Embeddings.Provider)
	} else if model.HardwareClass() == "gpu" && caps.HasUsableGPU() {
		provider = embed.ProviderGPU
	}

	slog.Info("embedding model selected",
		slog.String("model", model.ID),
		slog.String("provider", provider.String()),
		slog.Int("dimension", model.Dimension))

	spec := modelSpecFromCurated(model)

	// Fetch the model file up front through the download manager, so the
	// backend construction below finds it cached. The manager deduplicates
	// concurrent requests for the same model and fans progress out to every
	// subscriber.
	if provider == embed.ProviderGPU || provider == embed.ProviderCPU {
		if err := ensureModelDownloaded(ctx, cfg, spec); err != nil {
			return nil, err
		}
	}

	return embed.NewEmbedder(ctx, embed.NewEmbedderOptions{
		Mode:      mode,
		Provider:  provider,
		Model:     spec,
		ModelsDir: cfg.Embeddings.ModelsDir,
	})
}

// ensureModelDownloaded blocks until the model file is on disk, logging
// download progress at a sane cadence.
func ensureModelDownloaded(ctx context.Context, cfg *config.Config, spec embed.ModelSpec) error {
	manager := modeldownload.New(embed.NewModelManager(cfg.Embeddings.ModelsDir))

	done := make(chan error, 1)
	var lastPct int64 = -1
	unsubscribe := manager.Request(ctx, spec, func(ev modeldownload.Event) {
		switch ev.Kind {
		case modeldownload.EventProgress:
			if ev.Total > 0 {
				pct := ev.Downloaded * 100 / ev.Total
				if pct/10 != lastPct/10 {
					lastPct = pct
					slog.Info("downloading embedding model",
						slog.String("model", spec.Name), slog.Int64("percent", pct))
				}
			}
		case modeldownload.EventReady:
			done <- nil
		case modeldownload.EventFailed:
			done <- ev.Err
		}
	})
	defer unsubscribe()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("download model %s: %w", spec.Name, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pickCuratedModel resolves the configured model id, or takes the top
// assisted recommendation when none is configured.
func pickCuratedModel(catalog hardware.Catalog, caps hardware.Capabilities, cfg *config.Config) (hardware.CuratedModel, bool) {
	if want := cfg.Embeddings.Model; want != "" {
		for _, m := range catalog.All() {
			if m.ID == want {
				return m, true
			}
		}
		return hardware.CuratedModel{}, false
	}

	evaluator := hardware.NewEvaluator(catalog)
	ranked := evaluator.Recommend(caps, hardware.ModeAssisted, folderLanguages(cfg), nil)
	if len(ranked) == 0 {
		return hardware.CuratedModel{}, false
	}
	return ranked[0].Model, true
}

// folderLanguages merges the language hints of every registered folder.
func folderLanguages(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var langs []string
	for _, f := range cfg.Folders {
		for _, lang := range f.Languages {
			lang = strings.ToLower(lang)
			if !seen[lang] {
				seen[lang] = true
				langs = append(langs, lang)
			}
		}
	}
	return langs
}

// modelSpecFromCurated converts a catalog entry into the spec the embed
// backends download and open.
func modelSpecFromCurated(m hardware.CuratedModel) embed.ModelSpec {
	file := filepath.Base(m.DownloadURL)
	if file == "." || file == "/" || file == "" {
		file = m.ID + ".bin"
	}
	return embed.ModelSpec{
		Name:         m.ID,
		File:         m.ID + "-" + file,
		URL:          m.DownloadURL,
		SizeBytes:    m.ExpectedSize,
		Dimensions:   m.Dimension,
		MaxTokens:    m.MaxTokens,
		Multilingual: m.Multilingual(),
	}
}
