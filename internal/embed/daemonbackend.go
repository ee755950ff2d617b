package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/foldermcp/internal/errors"
)

// DefaultDaemonAddr is the conventional local port an external embedding
// daemon listens on. This backend is never auto-selected: a folder's
// config must name this address explicitly.
const DefaultDaemonAddr = "http://localhost:11434"

// daemonEmbedRequest/daemonEmbedResponse mirror a common local-daemon HTTP
// embedding protocol (one model, a list of inputs in, a list of embedding
// vectors out).
type daemonEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type daemonEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// DaemonEmbedder calls an external, user-managed local inference process
// over HTTP. It never downloads or manages a model itself — that process is
// responsible for having the named model loaded.
type DaemonEmbedder struct {
	mu         sync.RWMutex
	addr       string
	model      string
	dimensions int
	client     *http.Client
	breaker    *amerrors.CircuitBreaker
	closed     bool
}

func newDaemonEmbedder(ctx context.Context, addr string, model ModelSpec) (*DaemonEmbedder, error) {
	if addr == "" {
		addr = DefaultDaemonAddr
	}
	e := &DaemonEmbedder{
		addr:       addr,
		model:      model.Name,
		dimensions: model.Dimensions,
		client:     &http.Client{Timeout: DefaultTimeout},
		// The external process can die or restart under us; the breaker
		// makes repeated batch calls fail fast instead of each waiting out
		// the full HTTP timeout.
		breaker: amerrors.NewCircuitBreaker("embed-daemon"),
	}
	if !e.Available(ctx) {
		return nil, fmt.Errorf("embed: daemon backend unreachable at %s", addr)
	}
	if e.dimensions == 0 {
		dims, err := e.probeDimensions(ctx)
		if err != nil {
			return nil, fmt.Errorf("embed: daemon backend dimension probe: %w", err)
		}
		e.dimensions = dims
	}
	logBackendSelection("daemon", e.model)
	return e, nil
}

func (e *DaemonEmbedder) probeDimensions(ctx context.Context) (int, error) {
	vecs, err := e.doEmbed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 {
		return 0, fmt.Errorf("daemon returned no embeddings")
	}
	return len(vecs[0]), nil
}

func (e *DaemonEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(daemonEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.addr+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	var out daemonEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("daemon response decode: %w", err)
	}
	for i := range out.Embeddings {
		out.Embeddings[i] = normalizeVector(out.Embeddings[i])
	}
	return out.Embeddings, nil
}

func (e *DaemonEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("daemon returned no embedding")
	}
	return vecs[0], nil
}

func (e *DaemonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return nil, amerrors.ValidationFailedError("embed batch must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var vecs [][]float32
	err := e.breaker.Execute(func() error {
		var embedErr error
		vecs, embedErr = e.doEmbed(ctx, texts)
		return embedErr
	})
	return vecs, err
}

func (e *DaemonEmbedder) Dimensions() int   { return e.dimensions }
func (e *DaemonEmbedder) ModelName() string { return e.model }

// Capabilities for a user-managed daemon are mostly unknown: the daemon does
// not expose its model's token limit or training languages, so only the
// hardware class is reported.
func (e *DaemonEmbedder) Capabilities() Capability {
	return Capability{HardwareClass: "daemon"}
}

func (e *DaemonEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.addr+"/api/tags", nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *DaemonEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Embedder = (*DaemonEmbedder)(nil)
