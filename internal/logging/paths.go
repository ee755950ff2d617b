package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.foldermcp/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".foldermcp", "logs")
	}
	return filepath.Join(home, ".foldermcp", "logs")
}

// DefaultLogPath returns the daemon log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "daemon.log")
}

// FolderErrorLogPath returns one folder's error log, a JSON-Lines file the
// indexing pipeline appends to under the folder's data directory.
func FolderErrorLogPath(folderRoot string) string {
	return filepath.Join(folderRoot, ".folder-mcp", "errors.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceDaemon is the daemon's own log (default).
	LogSourceDaemon LogSource = "daemon"
	// LogSourceErrors is a folder's indexing error log; requires a folder
	// path to resolve.
	LogSourceErrors LogSource = "errors"
	// LogSourceAll combines all resolvable sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the daemon log file for viewing. An explicit
// path, when given, takes precedence.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. The daemon may not have run yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files for one source. folderRoot is only
// consulted for the errors source; it may be empty otherwise. An explicit
// path takes precedence over everything.
func FindLogFileBySource(source LogSource, folderRoot, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	appendIfExists := func(p string) {
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}

	switch source {
	case LogSourceDaemon:
		appendIfExists(DefaultLogPath())

	case LogSourceErrors:
		if folderRoot == "" {
			return nil, fmt.Errorf("the errors source needs a folder: pass --folder <path>")
		}
		appendIfExists(FolderErrorLogPath(folderRoot))

	case LogSourceAll:
		appendIfExists(DefaultLogPath())
		if folderRoot != "" {
			appendIfExists(FolderErrorLogPath(folderRoot))
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: daemon, errors, all)", source)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, getLogHint(source))
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "errors":
		return LogSourceErrors
	case "all":
		return LogSourceAll
	default:
		return LogSourceDaemon
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceDaemon:
		return "To generate daemon logs:\n  foldermcpd daemon start --folder <path>"
	case LogSourceErrors:
		return "A folder's errors.log appears after its first failed indexing task."
	case LogSourceAll:
		return "To generate logs:\n  foldermcpd daemon start --folder <path>"
	default:
		return ""
	}
}
