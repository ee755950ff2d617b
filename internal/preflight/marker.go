package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/foldermcp/pkg/version"
)

// MarkerFile marks a folder data directory whose host already passed the
// startup checks. The marker records which daemon version ran them, so an
// upgraded binary re-checks: limits and model requirements move between
// releases, and a pass from an old version proves nothing about this one.
const MarkerFile = ".preflight-passed"

// NeedsCheck reports whether the checks should run for this data
// directory: true until MarkPassed has written a marker for the current
// daemon version.
func NeedsCheck(dataDir string) bool {
	markerVersion, _, err := readMarker(dataDir)
	if err != nil {
		return true
	}
	return markerVersion != version.Version
}

// MarkPassed records that the checks passed under the current daemon
// version.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	markerPath := filepath.Join(dataDir, MarkerFile)
	content := fmt.Sprintf("%s\n%s\n", version.Version, time.Now().Format(time.RFC3339))
	return os.WriteFile(markerPath, []byte(content), 0o644)
}

// ClearMarker removes the marker file, forcing a re-check on next run.
func ClearMarker(dataDir string) error {
	markerPath := filepath.Join(dataDir, MarkerFile)
	err := os.Remove(markerPath)
	if os.IsNotExist(err) {
		return nil // Already gone
	}
	if err != nil {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the preflight check passed.
// Returns zero if no valid marker exists.
func MarkerAge(dataDir string) time.Duration {
	_, passedAt, err := readMarker(dataDir)
	if err != nil {
		return 0
	}
	return time.Since(passedAt)
}

// readMarker parses the marker's version line and timestamp line. Markers
// from before the version stamp (a bare timestamp) parse as version "" and
// therefore always trigger a re-check.
func readMarker(dataDir string) (string, time.Time, error) {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return "", time.Time{}, err
	}

	lines := strings.SplitN(strings.TrimSpace(string(content)), "\n", 2)
	if len(lines) < 2 {
		// Legacy single-line marker: treat the line as the timestamp.
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[0]))
		return "", t, err
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1]))
	if err != nil {
		return "", time.Time{}, err
	}
	return strings.TrimSpace(lines[0]), t, nil
}
