package lifecycle

import (
	"fmt"
	"sync"

	"github.com/Aman-CERP/foldermcp/internal/fmdm"
)

// TaskType is the kind of embedding work a scan diff produced for one file.
type TaskType string

const (
	TaskCreateEmbeddings TaskType = "create_embeddings"
	TaskUpdateEmbeddings TaskType = "update_embeddings"
	TaskRemoveEmbeddings TaskType = "remove_embeddings"
)

// Task is one unit of embedding work for a single file path. Tasks carry a
// monotonic Seq assigned at enqueue time; since the queue is strict FIFO,
// a RemoveEmbeddings task enqueued for a path is always dequeued before any
// CreateEmbeddings task enqueued afterward for that same path.
type Task struct {
	Path string
	Type TaskType
	Seq  int

	retryCount int
}

// EventKind distinguishes the two event shapes the orchestrator emits.
type EventKind string

const (
	EventStateChange EventKind = "state_change"
	EventProgress    EventKind = "progress"
)

// Event is delivered to every subscriber on a state transition or a
// progress update.
type Event struct {
	Kind     EventKind
	State    State
	Progress fmdm.Progress
	Err      string
}

// Listener receives lifecycle events for one folder.
type Listener func(Event)

// Unsubscribe removes a previously registered listener. Safe to call more
// than once.
type Unsubscribe func()

// maxTaskRetries bounds per-task retry before a task is abandoned as
// failed, distinct from MaxConsecutiveErrors which bounds the whole run.
const maxTaskRetries = 2

// Orchestrator is the per-folder state machine plus its task queue. One
// Orchestrator exists per registered folder; the daemon's construction
// graph owns the mapping from folder path to Orchestrator.
type Orchestrator struct {
	path string

	mu                sync.Mutex
	state             State
	consecutiveErrors int
	errorMessage      string

	tasks   []Task
	nextSeq int

	completed int
	total     int

	listeners      map[int]Listener
	nextListenerID int
}

// New creates an Orchestrator for folder path in StatePending, the initial
// state every folder starts in before its first scan.
func New(path string) *Orchestrator {
	return &Orchestrator{
		path:      path,
		state:     StatePending,
		listeners: make(map[int]Listener),
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe registers a listener that receives every subsequent state and
// progress event. The returned Unsubscribe removes it.
func (o *Orchestrator) Subscribe(listener Listener) Unsubscribe {
	o.mu.Lock()
	id := o.nextListenerID
	o.nextListenerID++
	o.listeners[id] = listener
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

// broadcast invokes every current listener outside o.mu, mirroring the FMDM
// bus's snapshot-then-invoke-unlocked pattern.
func (o *Orchestrator) broadcast(ev Event) {
	o.mu.Lock()
	listeners := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		listeners = append(listeners, l)
	}
	o.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

// transition applies a named event against the transition table. Callers
// must not hold o.mu. It returns false if the event is not legal from the
// orchestrator's current state.
func (o *Orchestrator) transition(event string) bool {
	o.mu.Lock()
	next, ok := transitions[o.state][event]
	if !ok {
		o.mu.Unlock()
		return false
	}
	o.state = next
	state := o.state
	o.mu.Unlock()

	o.broadcast(Event{Kind: EventStateChange, State: state})
	return true
}

// StartScanning fires the pending -> scanning transition.
func (o *Orchestrator) StartScanning() error {
	if !o.transition("start_scanning") {
		return fmt.Errorf("lifecycle: cannot start_scanning from %s", o.State())
	}
	return nil
}

// ScanFailed fires scanning -> error, recording message for later reporting.
func (o *Orchestrator) ScanFailed(message string) error {
	o.mu.Lock()
	next, ok := transitions[o.state]["scan_failed"]
	if !ok {
		from := o.state
		o.mu.Unlock()
		return fmt.Errorf("lifecycle: cannot scan_failed from %s", from)
	}
	o.state = next
	o.errorMessage = message
	o.mu.Unlock()

	o.broadcast(Event{Kind: EventStateChange, State: next, Err: message})
	return nil
}

// ScanDone enqueues one task per file change from a scan diff and fires the
// scanning -> active (no changes) or scanning -> ready (changes queued)
// transition. addedPaths/modifiedPaths/removedPaths are processed in that
// order so a path touched by more than one change kind in a single scan
// still enqueues RemoveEmbeddings ahead of CreateEmbeddings.
func (o *Orchestrator) ScanDone(addedPaths, modifiedPaths, removedPaths []string) error {
	o.mu.Lock()
	if _, ok := transitions[o.state]["scan_done_no_changes"]; !ok {
		from := o.state
		o.mu.Unlock()
		return fmt.Errorf("lifecycle: cannot complete scan from %s", from)
	}

	for _, p := range removedPaths {
		o.enqueueLocked(p, TaskRemoveEmbeddings)
	}
	for _, p := range modifiedPaths {
		o.enqueueLocked(p, TaskUpdateEmbeddings)
	}
	for _, p := range addedPaths {
		o.enqueueLocked(p, TaskCreateEmbeddings)
	}

	o.total = len(o.tasks)
	o.completed = 0

	var next State
	if o.total == 0 {
		next = transitions[StateScanning]["scan_done_no_changes"]
	} else {
		next = transitions[StateScanning]["scan_done_changes"]
	}
	o.state = next
	o.mu.Unlock()

	o.broadcast(Event{Kind: EventStateChange, State: next})
	return nil
}

func (o *Orchestrator) enqueueLocked(path string, taskType TaskType) {
	o.tasks = append(o.tasks, Task{Path: path, Type: taskType, Seq: o.nextSeq})
	o.nextSeq++
}

// StartIndexing fires ready -> indexing.
func (o *Orchestrator) StartIndexing() error {
	if !o.transition("start_indexing") {
		return fmt.Errorf("lifecycle: cannot start_indexing from %s", o.State())
	}
	return nil
}

// GetNextTask returns the oldest queued task without removing it from
// accounting, so the Resource Manager can decide admission; the task is
// considered dequeued only once CompleteTask or FailTask is called for it.
// ok is false when the queue is empty.
func (o *Orchestrator) GetNextTask() (Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.tasks) == 0 {
		return Task{}, false
	}
	return o.tasks[0], true
}

// CompleteTask removes the head task, advances progress, and transitions to
// active once the queue drains.
func (o *Orchestrator) CompleteTask() error {
	o.mu.Lock()
	if len(o.tasks) == 0 {
		o.mu.Unlock()
		return fmt.Errorf("lifecycle: no task to complete")
	}
	o.tasks = o.tasks[1:]
	o.completed++
	o.consecutiveErrors = 0
	progress := fmdm.NewProgress(o.completed, o.total)
	empty := len(o.tasks) == 0
	o.mu.Unlock()

	o.broadcast(Event{Kind: EventProgress, Progress: progress})

	if empty {
		o.transition("all_tasks_done")
	}
	return nil
}

// FailTask records a task failure. Below maxTaskRetries the task is
// returned to the back of the queue for retry (matching the "return to
// pending" retry rule without re-entering the folder's pending state,
// which names the whole-folder state rather than a task's). At
// maxTaskRetries it is dropped from the queue as permanently failed.
// Either way, consecutive-error accounting may push the whole folder into
// StateError once MaxConsecutiveErrors is exceeded.
func (o *Orchestrator) FailTask(message string) error {
	o.mu.Lock()
	if len(o.tasks) == 0 {
		o.mu.Unlock()
		return fmt.Errorf("lifecycle: no task to fail")
	}
	task := o.tasks[0]
	o.tasks = o.tasks[1:]
	o.consecutiveErrors++
	o.errorMessage = message

	task.retryCount++
	dropped := task.retryCount > maxTaskRetries
	if !dropped {
		task.Seq = o.nextSeq
		o.nextSeq++
		o.tasks = append(o.tasks, task)
	} else {
		o.completed++
		o.total = max(o.total, o.completed)
	}

	tooManyErrors := o.consecutiveErrors > MaxConsecutiveErrors
	empty := dropped && len(o.tasks) == 0
	progress := fmdm.NewProgress(o.completed, o.total)
	o.mu.Unlock()

	o.broadcast(Event{Kind: EventProgress, Progress: progress})

	switch {
	case tooManyErrors:
		o.transition("too_many_errors")
	case empty:
		o.transition("all_tasks_done")
	}
	return nil
}

// ModelMissing fires the "any -> downloading-model" branch, which applies
// from every state per the transition table's "any" row.
func (o *Orchestrator) ModelMissing() {
	o.mu.Lock()
	o.state = StateDownloadingModel
	o.mu.Unlock()
	o.broadcast(Event{Kind: EventStateChange, State: StateDownloadingModel})
}

// ModelReady fires downloading-model -> indexing.
func (o *Orchestrator) ModelReady() error {
	if !o.transition("model_ready") {
		return fmt.Errorf("lifecycle: cannot model_ready from %s", o.State())
	}
	return nil
}

// WatcherEvent fires active -> scanning in response to a file-change
// notification once the folder has settled into StateActive.
func (o *Orchestrator) WatcherEvent() error {
	if !o.transition("watcher_event") {
		return fmt.Errorf("lifecycle: cannot watcher_event from %s", o.State())
	}
	return nil
}

// Progress returns the current completed/total progress snapshot.
func (o *Orchestrator) Progress() fmdm.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fmdm.NewProgress(o.completed, o.total)
}

// ErrorMessage returns the last recorded error, if any.
func (o *Orchestrator) ErrorMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errorMessage
}
