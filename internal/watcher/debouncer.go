package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so one document save becomes one
// indexing task. Office suites and sync clients rarely write a document in
// place: a save is typically a temp write, a delete, and a rename within a
// few hundred milliseconds, and feeding each of those to the pipeline would
// chunk and embed the same file several times over. Events for the same
// path within the window merge by operation sequence:
//
//	CREATE + MODIFY = CREATE  (file is still new)
//	CREATE + DELETE = nothing (file never really existed)
//	MODIFY + DELETE = DELETE  (file is gone)
//	DELETE + CREATE = MODIFY  (file was replaced in place)
//
// Reconciliation triggers (ignore-rule and config changes) collapse even
// harder: reconciliation walks the whole folder, so one trigger per flush
// carries the same information as ten.
type Debouncer struct {
	window time.Duration

	mu        sync.Mutex
	pending   map[string]FileEvent // keyed by path, value already coalesced
	reconcile *FileEvent           // at most one reconciliation trigger per flush
	timer     *time.Timer
	output    chan []FileEvent
	stopped   bool
}

// NewDebouncer creates a debouncer with the given window duration. Events
// are held and merged for a full window before being emitted as one batch.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add feeds one event into the current window, merging it with whatever is
// already pending for the same path.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	// Whole-folder reconciliation triggers are deduplicated down to one.
	if event.Operation == OpIgnoreChange || event.Operation == OpConfigChange {
		if d.reconcile == nil {
			ev := event
			d.reconcile = &ev
		}
		d.armLocked()
		return
	}

	if prev, ok := d.pending[event.Path]; ok {
		merged, keep := mergeOps(prev, event)
		if keep {
			d.pending[event.Path] = merged
		} else {
			delete(d.pending, event.Path)
		}
	} else {
		d.pending[event.Path] = event
	}

	d.armLocked()
}

// mergeOps folds a newly observed operation into the pending one for the
// same path. The second return value is false when the pair cancels out
// entirely (a file created and deleted within one window).
func mergeOps(prev, next FileEvent) (FileEvent, bool) {
	switch {
	case prev.Operation == OpCreate && next.Operation == OpModify:
		return prev, true // still a brand-new file to the index
	case prev.Operation == OpCreate && next.Operation == OpDelete:
		return FileEvent{}, false // net effect: nothing happened
	case prev.Operation == OpDelete && next.Operation == OpCreate:
		next.Operation = OpModify // replaced in place, one save
		return next, true
	default:
		return next, true // latest operation wins
	}
}

// armLocked (re)starts the flush timer. Caller holds d.mu.
func (d *Debouncer) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits everything pending as one batch, in deterministic path order
// with any reconciliation trigger last — per-file work first, then the
// whole-folder sweep that would subsume stragglers anyway.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || (len(d.pending) == 0 && d.reconcile == nil) {
		return
	}

	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	events := make([]FileEvent, 0, len(paths)+1)
	for _, p := range paths {
		events = append(events, d.pending[p])
	}
	if d.reconcile != nil {
		events = append(events, *d.reconcile)
	}

	d.pending = make(map[string]FileEvent)
	d.reconcile = nil

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)),
		)
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
