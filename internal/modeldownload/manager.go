// Package modeldownload coordinates embedding model downloads across
// folders sharing one daemon process: when two folders select the same
// curated model at once, only one download runs, and both folders are
// notified of its progress and outcome. It wraps internal/embed's
// ModelManager, which already owns the cross-process gofrs/flock
// coordination; this package adds the in-process, per-model subscriber
// fan-out on top of it.
package modeldownload

import (
	"context"
	"sync"

	"github.com/Aman-CERP/foldermcp/internal/embed"
	amanerrors "github.com/Aman-CERP/foldermcp/internal/errors"
)

// EventKind distinguishes the three event shapes a subscriber can receive
// for a model it requested.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventReady    EventKind = "model_ready"
	EventFailed   EventKind = "download_failed"
)

// Event is delivered to every folder subscribed to a model's download.
type Event struct {
	Kind       EventKind
	ModelID    string
	Downloaded int64
	Total      int64
	Path       string // set on EventReady
	Err        error  // set on EventFailed
}

// Listener receives events for exactly the model it subscribed to.
type Listener func(Event)

// Unsubscribe removes a previously registered listener. Safe to call more
// than once.
type Unsubscribe func()

// download tracks one in-flight or completed model download and everyone
// waiting on it.
type download struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	done      bool
	path      string
	err       error
}

// Manager deduplicates concurrent requests for the same model id and fans
// out progress/outcome events to every folder that asked for it.
type Manager struct {
	models *embed.ModelManager

	mu        sync.Mutex
	downloads map[string]*download // keyed by ModelSpec.Name
}

// New creates a Manager backed by an embed.ModelManager rooted at modelsDir.
func New(models *embed.ModelManager) *Manager {
	return &Manager{
		models:    models,
		downloads: make(map[string]*download),
	}
}

// Request ensures spec is downloaded, subscribing listener to progress and
// outcome events. If a download for spec.Name is already in flight, the
// caller joins it rather than starting a second one. If it already
// completed (successfully or not), listener is invoked immediately with the
// terminal event and no subscription is kept open. The returned Unsubscribe
// is a no-op once the download has reached a terminal state.
func (m *Manager) Request(ctx context.Context, spec embed.ModelSpec, listener Listener) Unsubscribe {
	m.mu.Lock()
	dl, exists := m.downloads[spec.Name]
	if !exists {
		dl = &download{listeners: make(map[int]Listener)}
		m.downloads[spec.Name] = dl
	}
	m.mu.Unlock()

	dl.mu.Lock()
	if dl.done {
		path, err := dl.path, dl.err
		dl.mu.Unlock()
		if err != nil {
			listener(Event{Kind: EventFailed, ModelID: spec.Name, Err: err})
		} else {
			listener(Event{Kind: EventReady, ModelID: spec.Name, Path: path})
		}
		return func() {}
	}

	id := dl.nextID
	dl.nextID++
	dl.listeners[id] = listener
	isFirst := !exists
	dl.mu.Unlock()

	if isFirst {
		go m.run(ctx, spec, dl)
	}

	return func() {
		dl.mu.Lock()
		delete(dl.listeners, id)
		dl.mu.Unlock()
	}
}

// run performs the actual download via embed.ModelManager.EnsureModel and
// fans the outcome out to every subscriber, marking the download terminal
// so later Request calls for the same model id get an immediate replay
// instead of re-downloading.
func (m *Manager) run(ctx context.Context, spec embed.ModelSpec, dl *download) {
	path, err := m.models.EnsureModel(ctx, spec, func(downloaded, total int64) {
		dl.broadcast(Event{Kind: EventProgress, ModelID: spec.Name, Downloaded: downloaded, Total: total})
	})

	dl.mu.Lock()
	dl.done = true
	dl.path = path
	dl.err = err
	listeners := snapshotListeners(dl.listeners)
	dl.mu.Unlock()

	var ev Event
	if err != nil {
		ev = Event{Kind: EventFailed, ModelID: spec.Name, Err: amanerrors.ModelDownloadFailedError(spec.Name, err)}
	} else {
		ev = Event{Kind: EventReady, ModelID: spec.Name, Path: path}
	}
	for _, l := range listeners {
		l(ev)
	}

	m.mu.Lock()
	delete(m.downloads, spec.Name)
	m.mu.Unlock()
}

func (dl *download) broadcast(ev Event) {
	dl.mu.Lock()
	listeners := snapshotListeners(dl.listeners)
	dl.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

func snapshotListeners(m map[int]Listener) []Listener {
	out := make([]Listener, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	return out
}

// InFlight reports whether a download for modelID is currently running, for
// status/debug reporting.
func (m *Manager) InFlight(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.downloads[modelID]
	if !ok {
		return false
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return !dl.done
}
