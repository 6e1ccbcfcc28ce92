// Package output prints one-line command results with a status icon.
package output

import (
	"fmt"
	"io"
)

// Icons prefixed to each kind of line.
const (
	IconSuccess = "✅"
	IconQueued  = "⏳"
	IconWarning = "⚠️ "
	IconError   = "❌"
)

// Writer provides formatted output for CLI commands.
// Errors from writing are ignored; this is console output.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Statusf prints a formatted line behind icon, or indented when icon is
// empty.
func (w *Writer) Statusf(icon, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Successf prints a success line.
func (w *Writer) Successf(format string, args ...any) { w.Statusf(IconSuccess, format, args...) }

// Queuedf prints a line for work deferred to a later drain.
func (w *Writer) Queuedf(format string, args ...any) { w.Statusf(IconQueued, format, args...) }

// Warningf prints a warning line.
func (w *Writer) Warningf(format string, args ...any) { w.Statusf(IconWarning, format, args...) }

// Errorf prints an error line.
func (w *Writer) Errorf(format string, args ...any) { w.Statusf(IconError, format, args...) }

// Detailf prints an indented line under the previous one.
func (w *Writer) Detailf(format string, args ...any) { w.Statusf("", format, args...) }
