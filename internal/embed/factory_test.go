package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbedder_StaticProvider_DoesNotNeedModel(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, NewEmbedderOptions{
		Mode:     ModeManual,
		Provider: ProviderStatic,
	})
	require.NoError(t, err)
	defer embedder.Close()

	assert.Equal(t, "static", embedder.ModelName())
	assert.True(t, embedder.Available(ctx))
}

func TestNewEmbedder_AssistedMode_RejectsDaemon(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, NewEmbedderOptions{
		Mode:       ModeAssisted,
		Provider:   ProviderDaemon,
		DaemonAddr: "http://localhost:59999",
	})
	require.Error(t, err)
	assert.Nil(t, embedder)
	assert.Contains(t, err.Error(), "cannot be auto-selected")
}

func TestNewEmbedder_ManualMode_UnreachableDaemon_ReturnsError(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, NewEmbedderOptions{
		Mode:       ModeManual,
		Provider:   ProviderDaemon,
		DaemonAddr: "http://localhost:59999",
		Model:      ModelSpec{Name: "nomic-embed-text", Dimensions: 768},
	})
	require.Error(t, err)
	assert.Nil(t, embedder)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestNewEmbedder_ManualMode_UnknownProvider(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, NewEmbedderOptions{
		Mode:     ModeManual,
		Provider: ProviderType("quantum"),
	})
	require.Error(t, err)
	assert.Nil(t, embedder)
}

func TestNewEmbedder_DaemonProvider_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/embed":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3,0.4]]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, NewEmbedderOptions{
		Mode:       ModeManual,
		Provider:   ProviderDaemon,
		DaemonAddr: srv.URL,
		Model:      ModelSpec{Name: "nomic-embed-text", Dimensions: 4},
	})
	require.NoError(t, err)
	defer embedder.Close()
	assert.Equal(t, 4, embedder.Dimensions())
	assert.True(t, embedder.Available(ctx))
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want ProviderType
	}{
		{"gpu", ProviderGPU},
		{"GPU", ProviderGPU},
		{"cpu", ProviderCPU},
		{"daemon", ProviderDaemon},
		{"external", ProviderDaemon},
		{"static", ProviderStatic},
		{"unknown-thing", ProviderCPU},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseProvider(tt.in), "ParseProvider(%q)", tt.in)
	}
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("gpu"))
	assert.True(t, IsValidProvider("CPU"))
	assert.True(t, IsValidProvider("daemon"))
	assert.True(t, IsValidProvider("static"))
	assert.False(t, IsValidProvider("ollama"))
}

func TestGetInfo_StaticEmbedder(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, NewEmbedderOptions{Mode: ModeManual, Provider: ProviderStatic})
	require.NoError(t, err)
	defer embedder.Close()

	info := GetInfo(ctx, embedder)
	assert.Equal(t, ProviderStatic, info.Provider)
	assert.True(t, info.Available)
}

func TestIsCacheDisabled(t *testing.T) {
	orig := os.Getenv("FOLDERMCP_EMBED_CACHE")
	defer os.Setenv("FOLDERMCP_EMBED_CACHE", orig)

	os.Setenv("FOLDERMCP_EMBED_CACHE", "off")
	assert.True(t, isCacheDisabled())

	os.Setenv("FOLDERMCP_EMBED_CACHE", "")
	assert.False(t, isCacheDisabled())

	os.Setenv("FOLDERMCP_EMBED_CACHE", "disabled")
	assert.True(t, isCacheDisabled())
}
