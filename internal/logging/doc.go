// Package logging configures slog for zepindex.
//
// Records are written as JSON to a size-rotated file under ~/.zep/logs and,
// optionally, to stderr. When stderr is a terminal it gets the text handler so
// an operator running `zepindex serve` in the foreground can read it.
package logging
