// Package logging configures the process-wide slog logger.
//
// Records are JSON lines. They go to a size-rotated file under
// ~/.searchsync/logs/ and, unless disabled, to stderr as well.
package logging
