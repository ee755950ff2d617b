package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/foldermcp/internal/config"
	"github.com/Aman-CERP/foldermcp/internal/store"
	"github.com/Aman-CERP/foldermcp/internal/ui"
)

// hashString returns the SHA256 hash of a string (first 16 hex chars),
// matching how store derives folder IDs from absolute paths.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show one folder's index health and status",
		Long: `Display information about a folder's index including:
  - Number of indexed documents and chunks
  - Last indexing time
  - Storage sizes (metadata, vectors)
  - Embedder status (type, model, availability)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// statusFolder resolves which folder to report on: the first --folder flag,
// falling back to the current directory.
func statusFolder() (string, error) {
	if len(folderFlags) > 0 {
		return filepath.Abs(folderFlags[0])
	}
	return os.Getwd()
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := statusFolder()
	if err != nil {
		return err
	}

	dataDir := filepath.Join(root, ".folder-mcp")

	metadataPath := filepath.Join(dataDir, "embeddings.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'foldermcpd daemon start --folder %s' to create one", root, root)
	}

	info, err := collectStatus(ctx, root, dataDir)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}

	return renderer.Render(info)
}

func collectStatus(ctx context.Context, root, dataDir string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		FolderName: filepath.Base(root),
	}

	metadataPath := filepath.Join(dataDir, "embeddings.db")
	metadata, err := store.NewSQLiteStore(ctx, store.DefaultSQLiteStoreConfig(metadataPath))
	if err != nil {
		return info, fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	folderID := hashString(root)
	folder, err := metadata.GetFolder(ctx, folderID)
	if err != nil {
		// A missing folder record just means nothing is indexed yet.
		folder = nil
	}

	if folder != nil {
		info.TotalFiles = folder.DocCount
		info.TotalChunks = folder.ChunkCount
		info.LastIndexed = folder.IndexedAt
	}

	info.MetadataSize = getFileSize(metadataPath)

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	info.VectorSize = getFileSize(vectorPath)

	info.TotalSize = info.MetadataSize + info.VectorSize

	cfg, err := config.Load()
	if err != nil {
		cfg = config.NewConfig()
	}

	info.EmbedderType = cfg.Embeddings.Provider
	if info.EmbedderType == "" {
		info.EmbedderType = "assisted"
	}

	info.EmbedderStatus = "ready"
	info.EmbedderModel = cfg.Embeddings.Model
	if info.EmbedderModel == "" {
		info.EmbedderModel = "(hardware recommendation)"
	}

	// The index model recorded at build time wins over config when present.
	if model, _, err := metadata.GetEmbeddingConfig(ctx); err == nil && model != "" {
		info.EmbedderModel = model
	}

	info.WatcherStatus = "n/a"

	return info, nil
}

// getFileSize returns the size of a file in bytes.
func getFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
