package cmd

import (
	"context"
	"io"
	"sync"

	"github.com/Aman-CERP/foldermcp/internal/daemon"
	"github.com/Aman-CERP/foldermcp/internal/fmdm"
	"github.com/Aman-CERP/foldermcp/internal/ui"
)

// watchFolderProgress renders folder lifecycle updates from the daemon's
// FMDM bus until ctx is cancelled. One renderer serves all folders; each
// event carries the folder path so interleaved updates stay readable.
// Returns the unsubscribe function.
func watchFolderProgress(ctx context.Context, d *daemon.Daemon, out io.Writer) func() {
	cfg := ui.NewConfig(out, ui.WithNoColor(ui.DetectNoColor()))
	renderer := ui.NewRenderer(cfg)
	_ = renderer.Start(ctx)

	var mu sync.Mutex
	lastStatus := make(map[string]string)

	unsubscribe := d.FMDM().Subscribe(func(snap fmdm.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		for _, folder := range snap.Folders {
			if lastStatus[folder.Path] == folder.Status && folder.Progress == nil {
				continue
			}
			lastStatus[folder.Path] = folder.Status

			event := ui.ProgressEvent{CurrentFile: folder.Path}
			switch folder.Status {
			case "pending", "scanning":
				event.Stage = ui.StageScanning
			case "downloading-model":
				event.Stage = ui.StageDownloading
			case "ready", "indexing":
				event.Stage = ui.StageEmbedding
				if folder.Progress != nil {
					event.Current = folder.Progress.Completed
					event.Total = folder.Progress.Total
				}
			case "active":
				event.Stage = ui.StageComplete
				event.Message = folder.Path + " up to date"
			case "error":
				renderer.AddError(ui.ErrorEvent{File: folder.Path, Err: errorString(folder.Error)})
				continue
			default:
				continue
			}
			renderer.UpdateProgress(event)
		}
	})

	return func() {
		unsubscribe()
		_ = renderer.Stop()
	}
}

// errorString wraps an FMDM error message back into an error value for the
// renderer.
type errString string

func (e errString) Error() string { return string(e) }

func errorString(msg string) error {
	if msg == "" {
		msg = "unknown error"
	}
	return errString(msg)
}
