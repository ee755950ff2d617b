package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/foldermcp/internal/store"
	"github.com/Aman-CERP/foldermcp/internal/ui"
)

func TestStatusCmd_NoIndex(t *testing.T) {
	// Given: a directory with no index
	tmpDir := t.TempDir()

	cmd := newStatusCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	_ = os.Chdir(tmpDir)

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestCollectStatus_WithFolder(t *testing.T) {
	// Given: a folder with an index
	ctx := context.Background()
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, ".folder-mcp")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	metadataPath := filepath.Join(dataDir, "embeddings.db")
	metadata, err := store.NewSQLiteStore(ctx, store.DefaultSQLiteStoreConfig(metadataPath))
	require.NoError(t, err)

	folderID := hashString(tmpDir)
	folder := &store.Folder{
		ID:         folderID,
		Path:       tmpDir,
		DocCount:   10,
		ChunkCount: 50,
		IndexedAt:  time.Now(),
	}
	require.NoError(t, metadata.SaveFolder(ctx, folder))
	require.NoError(t, metadata.Close())

	// When: collecting status
	info, err := collectStatus(ctx, tmpDir, dataDir)

	// Then: succeeds and contains correct data
	require.NoError(t, err)
	assert.Equal(t, 10, info.TotalFiles)
	assert.Equal(t, 50, info.TotalChunks)
	assert.NotZero(t, info.MetadataSize)
}

func TestCollectStatus_NoFolderRecord(t *testing.T) {
	// Given: a metadata store with no folder record yet
	ctx := context.Background()
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, ".folder-mcp")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	metadataPath := filepath.Join(dataDir, "embeddings.db")
	metadata, err := store.NewSQLiteStore(ctx, store.DefaultSQLiteStoreConfig(metadataPath))
	require.NoError(t, err)
	require.NoError(t, metadata.Close())

	// When: collecting status
	info, err := collectStatus(ctx, tmpDir, dataDir)

	// Then: succeeds but shows zero counts
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalFiles)
	assert.Equal(t, 0, info.TotalChunks)
}

func TestStatusRenderer_Output(t *testing.T) {
	info := ui.StatusInfo{
		FolderName:     "contracts",
		TotalFiles:     10,
		TotalChunks:    50,
		LastIndexed:    time.Now(),
		MetadataSize:   1024 * 1024,
		EmbedderType:   "cpu",
		EmbedderStatus: "ready",
		EmbedderModel:  "bge-small-en-v1.5",
	}

	buf := &bytes.Buffer{}
	renderer := ui.NewStatusRenderer(buf, true) // noColor
	err := renderer.Render(info)

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "contracts")
	assert.Contains(t, output, "10")
	assert.Contains(t, output, "50")
	assert.Contains(t, output, "cpu")
	assert.Contains(t, output, "ready")
}

func TestStatusRenderer_JSON(t *testing.T) {
	info := ui.StatusInfo{
		FolderName:  "reports",
		TotalFiles:  5,
		TotalChunks: 25,
	}

	buf := &bytes.Buffer{}
	renderer := ui.NewStatusRenderer(buf, false)
	err := renderer.RenderJSON(info)

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, `"folder_name"`)
	assert.Contains(t, output, `"reports"`)
	assert.Contains(t, output, `"total_files"`)
}

func TestGetFileSize_NonExistent(t *testing.T) {
	size := getFileSize("/nonexistent/file.txt")
	assert.Equal(t, int64(0), size)
}

func TestGetFileSize_Exists(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "test.txt")
	content := []byte("hello world")
	require.NoError(t, os.WriteFile(filePath, content, 0o644))

	size := getFileSize(filePath)
	assert.Equal(t, int64(len(content)), size)
}
