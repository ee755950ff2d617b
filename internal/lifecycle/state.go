// Package lifecycle drives one folder through scan, index, and watch
// cycles as an explicit state machine, the way internal/async tracked one
// indexing run's progress under a mutex with an immutable Snapshot -
// generalized here to a full folder state machine with a task queue.
package lifecycle

// State is one node in the folder lifecycle state machine.
type State string

const (
	StatePending          State = "pending"
	StateScanning         State = "scanning"
	StateReady            State = "ready"
	StateIndexing         State = "indexing"
	StateActive           State = "active"
	StateError            State = "error"
	StateDownloadingModel State = "downloading-model"
)

// MaxConsecutiveErrors is the number of consecutive task failures an
// indexing run tolerates before the folder transitions to StateError.
const MaxConsecutiveErrors = 5

// transitions enumerates every legal (from, event) -> to edge from the
// folder lifecycle table. "any" matches every state for the model_missing
// event, handled specially in Orchestrator.ModelMissing.
var transitions = map[State]map[string]State{
	StatePending: {
		"start_scanning": StateScanning,
	},
	StateScanning: {
		"scan_done_no_changes": StateActive,
		"scan_done_changes":    StateReady,
		"scan_failed":          StateError,
	},
	StateReady: {
		"start_indexing": StateIndexing,
	},
	StateIndexing: {
		"all_tasks_done":  StateActive,
		"too_many_errors": StateError,
	},
	StateActive: {
		"watcher_event": StateScanning,
	},
	StateDownloadingModel: {
		"model_ready": StateIndexing,
	},
}
