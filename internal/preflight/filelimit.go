package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the minimum required file descriptor limit. The
// fsnotify watcher holds one descriptor per watched directory, for every
// registered folder at once, on top of the daemon's sockets and the two
// database files each loaded folder keeps open; 1024 covers typical
// document trees, while a lower limit silently breaks the watcher's
// recursive registration on deep folders.
const MinFileDescriptors = 1024

// CheckFileDescriptors verifies the fd limit can cover the watcher's
// per-directory watches plus the daemon's sockets and databases.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	currentLimit := rLimit.Cur

	if currentLimit < MinFileDescriptors {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%d (minimum: %d; the folder watcher needs one per watched directory)", currentLimit, MinFileDescriptors)
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d (minimum: %d)", currentLimit, MinFileDescriptors)
	return result
}
