// Package output formats the foldermcpd CLI's terminal output. The surface
// is deliberately small — status lines, success and warning markers, blank
// separators — because everything richer (folder progress, lifecycle
// rendering) belongs to internal/ui. The daemon's own diagnostics never go
// through here; they go to the structured log.
package output

import (
	"fmt"
	"io"
)

// Writer prints the CLI's human-facing lines. Write errors are ignored
// throughout; there is nothing useful to do when the console itself is
// broken, and the operation the line describes has already happened.
type Writer struct {
	out io.Writer
}

// New creates a Writer over out, typically the cobra command's stdout.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints one status line, indented under the preceding section when
// the icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a completed-action line, e.g. after a daemon start or a
// config write.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, "✅ %s\n", msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a non-fatal problem the user may want to act on, e.g. a
// config reset refusing to proceed without --force.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, "⚠️  %s\n", msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Newline prints a blank separator line between output sections.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
