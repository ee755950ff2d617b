package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// PollingWatcher detects file changes by periodically re-scanning the
// folder. It is the fallback for filesystems where fsnotify delivers no
// events (network mounts, some Docker volumes). Change detection compares
// the same two signals the indexing pipeline's persisted file states use —
// mtime and size — so the polling path and the scan-diff path agree on
// what counts as "modified".
type PollingWatcher struct {
	interval  time.Duration
	snapshots map[string]fileSnapshot
	events    chan FileEvent
	errors    chan error
	stopCh    chan struct{}
	mu        sync.RWMutex
	stopped   bool
	rootPath  string
}

// fileSnapshot is one polled file's identity between two sweeps.
type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a new polling watcher with the given interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval:  interval,
		snapshots: make(map[string]fileSnapshot),
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// Start begins watching the given folder by polling.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.rootPath = absPath

	// First sweep establishes the baseline without emitting anything: the
	// daemon's registration reconcile already covers the initial state.
	baseline, err := p.sweep()
	if err != nil {
		return fmt.Errorf("perform initial sweep: %w", err)
	}
	p.mu.Lock()
	p.snapshots = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.diffAgainstSnapshots(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the polling watcher.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// sweep walks the folder and returns a snapshot per entry. The folder's own
// index directory and VCS metadata are pruned during the walk rather than
// filtered afterward: the daemon writes into .folder-mcp on every indexing
// pass, and snapshotting it would make every sweep report changes.
func (p *PollingWatcher) sweep() (map[string]fileSnapshot, error) {
	seen := make(map[string]fileSnapshot)

	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip entries we can't access
		}

		relPath, err := filepath.Rel(p.rootPath, path)
		if err != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if name := d.Name(); name == dataDirName || name == ".git" {
				return filepath.SkipDir
			}
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		seen[relPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk folder: %w", err)
	}
	return seen, nil
}

// diffAgainstSnapshots sweeps the folder and emits one event per observed
// difference, in deterministic path order: creations and modifications
// first, then deletions.
func (p *PollingWatcher) diffAgainstSnapshots() error {
	current, err := p.sweep()
	if err != nil {
		return err
	}

	p.mu.Lock()
	previous := p.snapshots
	p.snapshots = current
	p.mu.Unlock()

	paths := make([]string, 0, len(current))
	for path := range current {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	now := time.Now()
	for _, path := range paths {
		snap := current[path]
		prev, existed := previous[path]
		switch {
		case !existed:
			p.emitEvent(FileEvent{Path: path, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
			p.emitEvent(FileEvent{Path: path, Operation: OpModify, IsDir: snap.isDir, Timestamp: now})
		}
	}

	removed := make([]string, 0)
	for path := range previous {
		if _, still := current[path]; !still {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	for _, path := range removed {
		p.emitEvent(FileEvent{Path: path, Operation: OpDelete, IsDir: previous[path].isDir, Timestamp: now})
	}

	return nil
}

// emitEvent sends an event to the events channel unless the watcher has
// stopped or the consumer has fallen behind.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
