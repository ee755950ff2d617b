// Package fmdm holds the Folder/Model Data Map: the single authoritative
// in-memory snapshot of every registered folder's status, broadcast to RPC
// and TUI subscribers on every mutation. Modeled on internal/async's
// mutex-guarded-state-plus-immutable-snapshot idiom, generalized from one
// folder's progress to every folder's.
package fmdm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Progress reports completion of a folder's current indexing run.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// NewProgress computes Percentage as floor(100*completed/total), per the
// folder progress invariant; Total == 0 reports 0%.
func NewProgress(completed, total int) Progress {
	p := Progress{Completed: completed, Total: total}
	if total > 0 {
		p.Percentage = (100 * completed) / total
	}
	return p
}

// FolderView is the public, wire-serializable shape of one folder's entry
// in the snapshot.
type FolderView struct {
	Path     string    `json:"path"`
	Model    string    `json:"model"`
	Status   string    `json:"status"`
	Progress *Progress `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Snapshot is the immutable value handed to subscribers and persisted to
// disk; it never aliases the bus's internal map.
type Snapshot struct {
	Folders []FolderView `json:"folders"`
}

// Listener receives a full snapshot after every mutation. Listeners run
// outside the bus's lock, so a slow listener cannot block other mutations;
// a listener that wants to be cheap should copy what it needs and return.
type Listener func(Snapshot)

// Unsubscribe removes a previously registered listener. Calling it more
// than once is a no-op.
type Unsubscribe func()

// Bus is the process-wide FMDM: one mutex-guarded map of folder path to
// FolderView, subscriber fan-out, and an optional on-disk mirror so a
// restarted daemon can recover the last-known progress before its folders
// finish their first post-restart scan.
type Bus struct {
	mu          sync.Mutex
	folders     map[string]FolderView
	order       []string // insertion order, for a stable Folders() listing
	listeners   map[int]Listener
	nextID      int
	persistPath string
}

// New creates an empty Bus. persistPath, if non-empty, is where the
// snapshot is mirrored after every mutation (temp-file-plus-rename).
func New(persistPath string) *Bus {
	return &Bus{
		folders:     make(map[string]FolderView),
		listeners:   make(map[int]Listener),
		persistPath: persistPath,
	}
}

// DefaultPersistPath returns the conventional FMDM snapshot location under
// the daemon's process-wide cache directory.
func DefaultPersistPath(cacheDir string) string {
	return filepath.Join(cacheDir, "fmdm.json")
}

// LoadSnapshot reads a previously persisted snapshot, if any. It is used
// only to seed UI/RPC clients immediately at daemon start, before the first
// real folder scan reports in; it is never treated as authoritative index
// state.
func LoadSnapshot(path string) (Snapshot, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// UpdateFolders replaces the entire folder set, e.g. at daemon start once
// the config's registry of folders is known.
func (b *Bus) UpdateFolders(folders []FolderView) {
	b.mu.Lock()
	b.folders = make(map[string]FolderView, len(folders))
	b.order = b.order[:0]
	for _, f := range folders {
		b.folders[f.Path] = f
		b.order = append(b.order, f.Path)
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.broadcast(snap)
}

// AddFolder registers a single folder, e.g. in response to a user
// registering a new folder at runtime. A folder already present at this
// path is replaced in place, preserving its position in Folders().
func (b *Bus) AddFolder(view FolderView) {
	b.mu.Lock()
	if _, exists := b.folders[view.Path]; !exists {
		b.order = append(b.order, view.Path)
	}
	b.folders[view.Path] = view
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.broadcast(snap)
}

// RemoveFolder drops a folder from the snapshot entirely, e.g. when a user
// unregisters it.
func (b *Bus) RemoveFolder(path string) {
	b.mu.Lock()
	if _, exists := b.folders[path]; !exists {
		b.mu.Unlock()
		return
	}
	delete(b.folders, path)
	for i, p := range b.order {
		if p == path {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.broadcast(snap)
}

// UpdateFolderStatus sets one folder's lifecycle status, clearing any
// stale error message unless the new status is itself "error".
func (b *Bus) UpdateFolderStatus(path, status string) {
	b.mu.Lock()
	view, ok := b.folders[path]
	if !ok {
		b.mu.Unlock()
		return
	}
	view.Status = status
	if status != "error" {
		view.Error = ""
	}
	b.folders[path] = view
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.broadcast(snap)
}

// UpdateFolderProgress sets one folder's in-flight indexing progress.
func (b *Bus) UpdateFolderProgress(path string, progress Progress) {
	b.mu.Lock()
	view, ok := b.folders[path]
	if !ok {
		b.mu.Unlock()
		return
	}
	p := progress
	view.Progress = &p
	b.folders[path] = view
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.broadcast(snap)
}

// UpdateFolderError sets a folder into the error state with a message,
// mirroring the lifecycle orchestrator's `scan_failed`/error transitions.
func (b *Bus) UpdateFolderError(path, message string) {
	b.mu.Lock()
	view, ok := b.folders[path]
	if !ok {
		b.mu.Unlock()
		return
	}
	view.Status = "error"
	view.Error = message
	b.folders[path] = view
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.broadcast(snap)
}

// GetFMDM returns the current snapshot.
func (b *Bus) GetFMDM() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// snapshotLocked must be called with b.mu held.
func (b *Bus) snapshotLocked() Snapshot {
	views := make([]FolderView, 0, len(b.order))
	for _, p := range b.order {
		views = append(views, b.folders[p])
	}
	return Snapshot{Folders: views}
}

// Subscribe registers a listener that receives the full snapshot after
// every subsequent mutation. The returned Unsubscribe removes it.
func (b *Bus) Subscribe(listener Listener) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// broadcast invokes every current listener with snap, outside the lock, and
// mirrors snap to disk if a persist path was configured. Each subscriber is
// invoked synchronously and in registration order: broadcasts for one
// mutation complete, in order, before the next mutation's broadcast begins,
// since broadcast is always called after the mutating method has released
// b.mu (no mutation can race ahead of its own broadcast).
func (b *Bus) broadcast(snap Snapshot) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sortInts(ids)
	for _, id := range ids {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	b.persist(snap)
}

func (b *Bus) persist(snap Snapshot) {
	if b.persistPath == "" {
		return
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(b.persistPath), 0o755); err != nil {
		return
	}
	tmp := b.persistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, b.persistPath)
}

func sortInts(ids []int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
