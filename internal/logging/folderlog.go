package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FolderErrorEntry is one line of a folder's errors.log.
type FolderErrorEntry struct {
	Time  time.Time `json:"ts"`
	Op    string    `json:"op"`
	Error string    `json:"error"`
	Retry int       `json:"retry"`
}

// FolderErrorLog appends JSON-Lines entries to one folder's errors.log.
// Entries record per-file indexing failures that were swallowed so the rest
// of the folder could proceed; the daemon log only carries a summary.
type FolderErrorLog struct {
	mu   sync.Mutex
	path string
}

// NewFolderErrorLog creates an error log for the folder rooted at folderRoot.
// Nothing is written until the first Append.
func NewFolderErrorLog(folderRoot string) *FolderErrorLog {
	return &FolderErrorLog{path: FolderErrorLogPath(folderRoot)}
}

// Append writes one entry. Failures to write are swallowed: the error log
// is diagnostics, never a reason to fail the operation being logged.
func (l *FolderErrorLog) Append(op string, opErr error, retry int) {
	if opErr == nil {
		return
	}

	entry := FolderErrorEntry{
		Time:  time.Now().UTC(),
		Op:    op,
		Error: opErr.Error(),
		Retry: retry,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}
