// Package logging provides the bracketed-prefix loggers used across the
// proxy, matching the style of the teacher's per-component log lines
// ("[MySQL] ...", "[Replica] ...").
package logging

import (
	"log"
	"os"
)

// Logger is a thin wrapper around the standard library logger that
// prefixes every line with a component tag.
type Logger struct {
	*log.Logger
}

// New creates a Logger that writes to stderr with the given component tag.
func New(component string) *Logger {
	return &Logger{
		Logger: log.New(os.Stderr, "["+component+"] ", log.LstdFlags),
	}
}
