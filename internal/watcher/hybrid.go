package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/foldermcp/internal/ignore"
	"github.com/Aman-CERP/foldermcp/internal/scanner"
)

// dataDirName is the per-folder index directory. The watcher must never
// report changes under it: the daemon writes there constantly, and feeding
// those writes back into the pipeline would index the index.
const dataDirName = ".folder-mcp"

// HybridWatcher watches one registered document folder, using fsnotify when
// the platform delivers events and falling back to polling otherwise. Raw
// filesystem events are funneled through three folder-specific gates before
// they reach the indexing pipeline:
//
//   - the exclude rules (built-ins, configured patterns, .folderignore),
//   - the document-format allowlist (only files the chunkers understand),
//   - an editor-noise filter (office lock files, swap and temp files).
//
// What survives is debounced into batches, so one "save" from an office
// suite — often a delete, a temp write, and a rename in under a second —
// becomes a single task for the per-file indexing pipeline.
type HybridWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	excludes       *ignore.Matcher
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	rootPath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// Ensure HybridWatcher implements Watcher interface.
// Note: Events() returns batched events ([]FileEvent) due to debouncing.
var _ interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
} = (*HybridWatcher)(nil)

// NewHybridWatcher creates a new hybrid watcher with the given options.
// Attempts to use fsnotify first, falls back to polling if it fails.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		excludes:  ignore.New(),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}
	h.addBuiltinExcludes(h.excludes)

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		h.useFsnotify = false
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return h, nil
}

// addBuiltinExcludes applies the always-on exclusions plus the configured
// patterns to a fresh matcher.
func (h *HybridWatcher) addBuiltinExcludes(m *ignore.Matcher) {
	for _, pattern := range h.opts.IgnorePatterns {
		m.AddPattern(pattern)
	}
	m.AddPattern(dataDirName + "/")
	m.AddPattern(dataDirName + "/**")
}

// Start begins watching the given folder.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	h.rootPath = absPath

	h.loadIgnoreRules()

	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

// startFsnotify starts the fsnotify-based watcher.
func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	// Recursively add all directories to watch
	if err := h.addRecursive(h.rootPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

// startPolling starts the polling-based watcher.
func (h *HybridWatcher) startPolling(ctx context.Context) error {
	// Forward polling events through the same gates and debouncer.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				h.admit(event.Path, event.Operation, event.IsDir)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.rootPath)
}

// handleFsnotifyEvent converts an fsnotify event and feeds it to the gates.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New directories join the watch set even when nothing in them is
		// indexable yet; documents may appear there later.
		if isDir {
			_ = h.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// chmod and other attribute noise never changes document content
		return
	}

	h.admit(relPath, op, isDir)
}

// admit runs one raw event through the folder's gates and, if it survives,
// hands it to the debouncer. Ignore-rule and config files short-circuit
// into their dedicated reconciliation operations.
func (h *HybridWatcher) admit(relPath string, op Operation, isDir bool) {
	if h.shouldIgnore(relPath, isDir) {
		return
	}

	base := filepath.Base(relPath)
	switch base {
	case ".folderignore", ".gitignore":
		h.loadIgnoreRules()
		h.debouncer.Add(FileEvent{
			Path:      relPath,
			Operation: OpIgnoreChange,
			Timestamp: time.Now(),
		})
		return
	case ".foldermcp.yaml", ".foldermcp.yml":
		h.debouncer.Add(FileEvent{
			Path:      relPath,
			Operation: OpConfigChange,
			Timestamp: time.Now(),
		})
		return
	}

	// Directories carry no indexable content of their own; deletes of a
	// whole directory surface as per-file deletes on the next reconcile.
	if isDir {
		return
	}

	// Only formats the chunkers understand become pipeline work. For
	// deletes the file is gone, so the extension is all there is to go on —
	// which is exactly what the allowlist keys on.
	if _, indexable := scanner.DetectContentType(relPath); !indexable {
		return
	}
	if isEditorNoise(base) {
		return
	}

	h.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// isEditorNoise reports scratch files that editors and office suites churn
// through during a save. They can match the extension allowlist (Word's
// lock files keep the .docx extension) but must never be indexed.
func isEditorNoise(base string) bool {
	if strings.HasPrefix(base, "~$") { // office lock files
		return true
	}
	if strings.HasPrefix(base, ".#") { // emacs lock links
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".swp", ".swx", ".bak":
		return true
	}
	return strings.HasSuffix(base, "~")
}

// forwardDebouncedEvents forwards debounced events to the output channel.
func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			h.emitEvents(events)
		}
	}
}

// addRecursive adds all directories under root to the fsnotify watcher.
func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip directories we can't access
		}

		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(h.rootPath, path)

		// Always add the root directory
		if relPath == "." {
			return h.fsWatcher.Add(path)
		}

		// Skip excluded directories (but not root)
		if h.shouldIgnoreDir(relPath) {
			return filepath.SkipDir
		}

		return h.fsWatcher.Add(path)
	})
}

// shouldIgnoreDir checks if a directory should be excluded from watching.
func (h *HybridWatcher) shouldIgnoreDir(relPath string) bool {
	if strings.HasPrefix(relPath, ".git") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, dataDirName) || relPath == dataDirName {
		return true
	}

	// Hold the read lock while consulting the exclude matcher
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.excludes.Match(relPath, true)
}

// shouldIgnore returns true if the path is excluded from watching.
func (h *HybridWatcher) shouldIgnore(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}

	if strings.HasPrefix(relPath, ".git/") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, dataDirName+"/") || relPath == dataDirName {
		return true
	}

	// Hold the read lock while consulting the exclude matcher
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.excludes.Match(relPath, isDir)
}

// loadIgnoreRules rebuilds the exclude matcher: built-ins and configured
// patterns, then .folderignore files (root and nested), then a root
// .gitignore for folders that are synced checkouts.
func (h *HybridWatcher) loadIgnoreRules() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.excludes = ignore.New()
	h.addBuiltinExcludes(h.excludes)

	rootGitignore := filepath.Join(h.rootPath, ".gitignore")
	if err := h.excludes.AddFromFile(rootGitignore, ""); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load root .gitignore",
			slog.String("path", rootGitignore),
			slog.String("error", err.Error()))
	}

	// Walk for .folderignore files; log read errors instead of silently
	// skipping them.
	_ = filepath.WalkDir(h.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping directory in ignore-rule scan",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == dataDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == ".folderignore" {
			base, _ := filepath.Rel(h.rootPath, filepath.Dir(path))
			if base == "." {
				base = ""
			}
			if err := h.excludes.AddFromFile(path, base); err != nil {
				slog.Warn("failed to read .folderignore",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// emitEvents sends events to the output channel.
func (h *HybridWatcher) emitEvents(events []FileEvent) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	if stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		count := h.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count),
		)
	}
}

// DroppedBatches returns the number of event batches dropped due to buffer overflow.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

// emitError sends an error to the error channel.
func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	if stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}

	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()

	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of batched file events.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy returns true if the watcher is running and hasn't stopped.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType returns the type of watcher being used ("fsnotify" or "polling").
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the root path being watched.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}
