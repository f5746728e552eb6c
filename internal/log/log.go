// Package log builds per-component loggers sharing one backend, the same
// "backend.GetLogger(name)" / "log.WithPrefix(name)" shape the pack uses
// throughout client2 and server/cborplugin.
package log

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Backend owns the shared destination and level for every logger derived
// from it. One Backend per process is typical; tests construct their own.
type Backend struct {
	base *log.Logger
}

// NewBackend creates a Backend writing to w at the given level ("debug",
// "info", "warn", "error"). An empty level defaults to "info".
func NewBackend(w io.Writer, level string) *Backend {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           lvl,
	})
	return &Backend{base: l}
}

// GetLogger returns a logger prefixed with name, sharing the backend's
// writer and level.
func (b *Backend) GetLogger(name string) *log.Logger {
	return b.base.WithPrefix(name)
}
